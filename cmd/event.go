package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/service-marketplace/internal/chat"
	"github.com/frahmantamala/service-marketplace/internal/core/events"
	"github.com/frahmantamala/service-marketplace/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Manage events: publish test events through the in-process bus and its handlers`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a test event",
	Long:  `Publish a test event to the event bus for testing and debugging. request.accepted runs the chat opener.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(cmd.Context(), args[0])
	},
}

var (
	eventData       string
	eventRequestID  string
	eventClientID   string
	eventProviderID string
)

func publishTestEvent(ctx context.Context, eventType string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)
	chat.NewOpener(chat.LogStarter{Logger: lg}, lg).RegisterEventHandlers(eventBus)

	var event events.Event
	switch eventType {
	case events.EventTypeRequestAccepted:
		event = events.NewRequestAcceptedEvent(eventRequestID, eventClientID, eventProviderID, eventData)
	default:
		eventBus.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			lg.Info("test handler received event",
				"event_id", event.EventID(),
				"event_type", event.EventType(),
				"payload", event.Payload())
			return nil
		})
		event = events.BaseEvent{
			ID:        fmt.Sprintf("test-%d", time.Now().Unix()),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"message": eventData,
				"source":  "cli-command",
			},
		}
	}

	lg.Info("publishing test event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.PublishSync(ctx, event); err != nil {
		lg.Error("failed to publish event", "error", err)
		return err
	}

	lg.Info("test event published successfully")
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventData, "data", "test message", "Event message, or the service name for request.accepted")
	publishEventCmd.Flags().StringVar(&eventRequestID, "request-id", "req-cli", "Request id for request.accepted")
	publishEventCmd.Flags().StringVar(&eventClientID, "client-id", "client-cli", "Client id for request.accepted")
	publishEventCmd.Flags().StringVar(&eventProviderID, "provider-id", "provider-cli", "Provider id for request.accepted")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}
