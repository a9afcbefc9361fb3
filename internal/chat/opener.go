package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/frahmantamala/service-marketplace/internal/core/events"
)

// Conversation identifies the thread opened between a client and a provider
// for one request.
type Conversation struct {
	RequestID  string
	ClientID   string
	ProviderID string
	Topic      string
}

// ConversationStarter opens the chat thread. Implementations must tolerate
// being asked twice for the same request.
type ConversationStarter interface {
	StartConversation(ctx context.Context, conv Conversation) error
}

// Opener starts a conversation once a provider accepts a request.
type Opener struct {
	starter ConversationStarter
	logger  *slog.Logger
	opened  sync.Map
}

func NewOpener(starter ConversationStarter, logger *slog.Logger) *Opener {
	return &Opener{
		starter: starter,
		logger:  logger,
	}
}

func (o *Opener) HandleRequestAccepted(ctx context.Context, event events.Event) error {
	accepted, ok := event.(*events.RequestAcceptedEvent)
	if !ok {
		o.logger.Error("invalid event type for request accepted handler", "event_type", event.EventType())
		return fmt.Errorf("expected RequestAcceptedEvent, got %T", event)
	}

	if _, seen := o.opened.LoadOrStore(accepted.RequestID, struct{}{}); seen {
		o.logger.Debug("conversation already opened", "request_id", accepted.RequestID, "event_id", accepted.EventID())
		return nil
	}

	conv := Conversation{
		RequestID:  accepted.RequestID,
		ClientID:   accepted.ClientID,
		ProviderID: accepted.ProviderID,
		Topic:      accepted.ServiceName,
	}
	if err := o.starter.StartConversation(ctx, conv); err != nil {
		o.opened.Delete(accepted.RequestID)
		o.logger.Error("failed to open conversation",
			"error", err,
			"request_id", accepted.RequestID,
			"event_id", accepted.EventID())
		return fmt.Errorf("open conversation for request %s: %w", accepted.RequestID, err)
	}

	o.logger.Info("conversation opened",
		"request_id", accepted.RequestID,
		"client_id", accepted.ClientID,
		"provider_id", accepted.ProviderID)
	return nil
}

func (o *Opener) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeRequestAccepted, o.HandleRequestAccepted)

	o.logger.Info("chat event handlers registered",
		"handlers", []string{events.EventTypeRequestAccepted})
}

// LogStarter stands in for the chat service.
type LogStarter struct {
	Logger *slog.Logger
}

func (l LogStarter) StartConversation(ctx context.Context, conv Conversation) error {
	l.Logger.InfoContext(ctx, "starting conversation",
		"request_id", conv.RequestID,
		"client_id", conv.ClientID,
		"provider_id", conv.ProviderID,
		"topic", conv.Topic)
	return nil
}
