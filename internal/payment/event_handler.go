package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/service-marketplace/internal/core/events"
	"github.com/frahmantamala/service-marketplace/internal/request"
)

// EventHandler audits settlements against the ledger after the fact.
type EventHandler struct {
	ledger LedgerRepository
	logger *slog.Logger
}

func NewEventHandler(ledger LedgerRepository, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		ledger: ledger,
		logger: logger,
	}
}

// HandlePaymentSucceeded checks that the settled intent has a matching
// succeeded ledger row.
func (h *EventHandler) HandlePaymentSucceeded(ctx context.Context, event events.Event) error {
	paid, ok := event.(*events.PaymentSucceededEvent)
	if !ok {
		h.logger.Error("invalid event type for payment succeeded handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentSucceededEvent, got %T", event)
	}

	entry, err := h.ledger.GetByIntentID(ctx, paid.PaymentIntentID)
	if err != nil {
		h.logger.Error("settled payment has no ledger entry",
			"error", err,
			"request_id", paid.RequestID,
			"payment_intent_id", paid.PaymentIntentID,
			"event_id", paid.EventID())
		return fmt.Errorf("ledger lookup for intent %s: %w", paid.PaymentIntentID, err)
	}

	if entry.Status != request.PaymentStatusSucceeded || entry.Amount != paid.Amount || entry.Currency != paid.Currency {
		h.logger.Warn("ledger entry disagrees with settlement",
			"request_id", paid.RequestID,
			"payment_intent_id", paid.PaymentIntentID,
			"ledger_status", entry.Status,
			"ledger_amount", entry.Amount,
			"ledger_currency", entry.Currency,
			"settled_amount", paid.Amount,
			"settled_currency", paid.Currency)
		return nil
	}

	h.logger.Info("settlement audited",
		"request_id", paid.RequestID,
		"payment_intent_id", paid.PaymentIntentID,
		"channel", paid.Channel)
	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Warn("payment did not go through",
		"request_id", failed.RequestID,
		"payment_intent_id", failed.PaymentIntentID,
		"status", failed.Status,
		"channel", failed.Channel)
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentSucceeded, h.HandlePaymentSucceeded)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypePaymentSucceeded, events.EventTypePaymentFailed})
}
