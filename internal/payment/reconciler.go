package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/core/events"
	"github.com/frahmantamala/service-marketplace/internal/request"
)

// Outcome is what a reconciliation left on the request row.
type Outcome struct {
	RequestID       string         `json:"request_id"`
	PaymentIntentID string         `json:"payment_intent_id"`
	PaymentStatus   string         `json:"status"`
	RequestStatus   request.Status `json:"request_status"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	// Degraded is set when only the payment fields could be written.
	Degraded bool `json:"degraded,omitempty"`
	// RefundRequired is set when the intent collected money the request does
	// not accept; the request row is left as it was.
	RefundRequired bool `json:"refund_required,omitempty"`
}

// Reconciler folds processor intent states into the request store. The
// confirm call and the webhook both end in Apply, and every write Apply makes
// is idempotent, so the two channels may arrive in any order or repeat.
type Reconciler struct {
	requests  RequestStore
	ledger    LedgerRepository
	processor Processor
	events    events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewReconciler(requests RequestStore, ledger LedgerRepository, processor Processor, publisher events.Publisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		requests:  requests,
		ledger:    ledger,
		processor: processor,
		events:    publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ConfirmPayment is the client's explicit "I paid" call. The intent is read
// back from the processor; the caller's word is never trusted.
func (r *Reconciler) ConfirmPayment(ctx context.Context, requestID, intentID, callerID string) (*Outcome, error) {
	req, err := r.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && !req.IsClient(callerID) {
		r.logger.Warn("payment confirmation by non-client", "request_id", requestID, "caller_id", callerID)
		return nil, internal.ErrUnauthorizedAccess
	}

	intent, err := r.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		r.logger.Error("failed to retrieve intent for confirmation",
			"error", err,
			"request_id", requestID,
			"payment_intent_id", intentID)
		return nil, err
	}

	if owner := intent.RequestID(); owner != "" && owner != requestID {
		r.logger.Warn("intent belongs to another request",
			"request_id", requestID,
			"payment_intent_id", intentID,
			"intent_request_id", owner)
		return nil, internal.ErrIntentMismatch
	}

	return r.Apply(ctx, requestID, intent, PaymentStatusFor(intent.Status), ChannelConfirm)
}

// HandleWebhook verifies and applies a processor event. A nil outcome with a
// nil error means the event was acknowledged without touching any request.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Outcome, error) {
	evt, err := r.processor.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		r.logger.Warn("webhook rejected", "error", err)
		return nil, err
	}

	status, ok := PaymentStatusForEvent(evt.Type)
	if !ok || evt.Intent == nil {
		r.logger.Debug("ignoring webhook event", "event_id", evt.ID, "event_type", evt.Type)
		return nil, nil
	}

	requestID := evt.Intent.RequestID()
	if requestID == "" {
		r.logger.Warn("webhook intent carries no request id",
			"event_id", evt.ID,
			"payment_intent_id", evt.Intent.ID)
		return nil, nil
	}

	r.logger.Info("webhook received",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"request_id", requestID,
		"payment_intent_id", evt.Intent.ID)

	return r.Apply(ctx, requestID, evt.Intent, status, ChannelWebhook)
}

// Apply records status for intent against the request.
func (r *Reconciler) Apply(ctx context.Context, requestID string, intent *Intent, status, channel string) (*Outcome, error) {
	req, err := r.requests.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, internal.ErrRequestNotFound) {
			r.logger.Warn("reconciliation for unknown request", "request_id", requestID, "payment_intent_id", intent.ID)
		}
		return nil, err
	}
	wasPaid := req.IsPaid()
	refund := status == request.PaymentStatusSucceeded && !settles(req, intent)

	entry := r.ledgerEntry(req, intent, status, channel)
	entry.RefundRequired = refund
	if err := r.ledger.Upsert(ctx, entry); err != nil {
		r.logger.Error("failed to upsert ledger entry", "error", err, "payment_intent_id", intent.ID, "channel", channel)
		return nil, fmt.Errorf("upsert ledger entry: %w", err)
	}

	outcome := &Outcome{RequestID: req.ID, PaymentIntentID: intent.ID}

	switch {
	case refund:
		r.logger.Error("payment does not match the request, flagged for refund",
			"request_id", req.ID,
			"payment_intent_id", intent.ID,
			"current_intent_id", derefString(req.PaymentIntentID),
			"amount", intent.Amount,
			"currency", intent.Currency,
			"price_amount", derefInt64(req.PriceAmount),
			"price_currency", derefString(req.Currency),
			"channel", channel)
		outcome.RefundRequired = true
	case status == request.PaymentStatusSucceeded:
		degraded, err := r.settle(ctx, req, intent, channel)
		if err != nil {
			return nil, err
		}
		outcome.Degraded = degraded
		if !wasPaid {
			r.publish(ctx, events.NewPaymentSucceededEvent(req.ID, intent.ID, intent.Amount, intent.Currency, channel))
		}
	default:
		changed, err := r.recordStatus(ctx, req, intent, status, channel)
		if err != nil {
			return nil, err
		}
		if changed && (status == request.PaymentStatusFailed || status == request.PaymentStatusCanceled) {
			r.publish(ctx, events.NewPaymentFailedEvent(req.ID, intent.ID, status, channel))
		}
	}

	final, err := r.requests.GetByID(ctx, requestID)
	if err != nil {
		r.logger.Error("failed to reload request after reconciliation", "error", err, "request_id", requestID)
		return nil, err
	}
	outcome.PaymentStatus = final.PaymentStatus
	outcome.RequestStatus = final.Status
	outcome.PaidAt = final.PaidAt
	if final.PaymentIntentID != nil {
		outcome.PaymentIntentID = *final.PaymentIntentID
	}

	return outcome, nil
}

// settle writes a successful payment. If the full write fails the payment
// fields alone are written and the outcome is marked degraded; the repair
// worker completes the status later.
func (r *Reconciler) settle(ctx context.Context, req *request.Request, intent *Intent, channel string) (bool, error) {
	if req.Status == request.StatusRejected || req.Status == request.StatusCancelled {
		r.logger.Warn("payment succeeded on a closed request",
			"request_id", req.ID,
			"request_status", req.Status,
			"payment_intent_id", intent.ID,
			"channel", channel)
	}

	paidAt := r.now()
	err := r.requests.ApplySettlement(ctx, req.ID, intent.ID, paidAt)
	if err == nil {
		r.logger.Info("payment settled",
			"request_id", req.ID,
			"payment_intent_id", intent.ID,
			"amount", intent.Amount,
			"currency", intent.Currency,
			"channel", channel)
		return false, nil
	}
	if errors.Is(err, internal.ErrRequestNotFound) || errors.Is(err, internal.ErrInvalidTransition) {
		// The intent on file moved under us; the next delivery sees the new
		// one and flags this payment instead.
		return false, err
	}

	r.logger.Warn("settlement write failed, recording payment fields only",
		"error", err,
		"request_id", req.ID,
		"payment_intent_id", intent.ID)

	if ferr := r.requests.ApplySettlementPaymentOnly(ctx, req.ID, intent.ID, paidAt); ferr != nil {
		r.logger.Error("failed to record payment fields", "error", ferr, "request_id", req.ID, "payment_intent_id", intent.ID)
		return false, fmt.Errorf("record settlement: %w", errors.Join(err, ferr))
	}

	r.logger.Error("settlement degraded",
		"code", internal.ErrPersistenceDegraded.Code,
		"error", internal.ErrPersistenceDegraded.WithCause(err),
		"request_id", req.ID,
		"payment_intent_id", intent.ID,
		"channel", channel)
	return true, nil
}

// recordStatus writes a non-success status. Only the request's current
// intent moves the request row; a superseded intent is kept in the ledger
// alone. It reports whether the request row was the target of the write.
func (r *Reconciler) recordStatus(ctx context.Context, req *request.Request, intent *Intent, status, channel string) (bool, error) {
	if req.IsPaid() {
		r.logger.Info("ignoring status for settled request",
			"request_id", req.ID,
			"payment_intent_id", intent.ID,
			"status", status,
			"channel", channel)
		return false, nil
	}

	if !req.HasIntent() {
		err := r.requests.AttachIntent(ctx, req.ID, intent.ID, status)
		if errors.Is(err, internal.ErrInvalidTransition) {
			r.logger.Info("status for closed request recorded in ledger only",
				"request_id", req.ID,
				"payment_intent_id", intent.ID,
				"status", status)
			return false, nil
		}
		if err != nil {
			r.logger.Error("failed to attach intent", "error", err, "request_id", req.ID, "payment_intent_id", intent.ID)
			return false, err
		}
		return true, nil
	}

	if *req.PaymentIntentID != intent.ID {
		r.logger.Info("status for superseded intent recorded in ledger only",
			"request_id", req.ID,
			"payment_intent_id", intent.ID,
			"current_intent_id", *req.PaymentIntentID,
			"status", status)
		return false, nil
	}

	if err := r.requests.ApplyPaymentStatus(ctx, req.ID, intent.ID, status); err != nil {
		r.logger.Error("failed to record payment status", "error", err, "request_id", req.ID, "status", status)
		return false, err
	}
	r.logger.Info("payment status recorded",
		"request_id", req.ID,
		"payment_intent_id", intent.ID,
		"status", status,
		"channel", channel)
	return req.PaymentStatus != status, nil
}

func (r *Reconciler) ledgerEntry(req *request.Request, intent *Intent, status, channel string) *LedgerEntry {
	now := r.now()
	original := intent.Metadata[MetaOriginalCurrency]
	if original == "" && req.OriginalCurrency != nil {
		original = *req.OriginalCurrency
	}

	meta := make(map[string]interface{}, len(intent.Metadata)+1)
	for k, v := range intent.Metadata {
		meta[k] = v
	}
	meta["channel"] = channel

	return &LedgerEntry{
		PaymentIntentID:  intent.ID,
		RequestID:        req.ID,
		ClientID:         req.ClientID,
		ProviderID:       req.ProviderID,
		Amount:           intent.Amount,
		Currency:         intent.Currency,
		OriginalCurrency: original,
		Status:           status,
		Metadata:         meta,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Error("failed to publish payment event", "error", err, "event_type", event.EventType())
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}
