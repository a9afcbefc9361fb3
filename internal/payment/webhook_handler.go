package payment

import (
	"errors"
	"io"
	"net/http"

	"github.com/frahmantamala/service-marketplace/internal"
)

const (
	maxWebhookBytes = 64 << 10
	signatureHeader = "Stripe-Signature"
)

// HandleWebhook handles POST /api/v1/payments/webhook.
//
// The processor retries anything that is not a 2xx, so only failures a retry
// could fix answer 5xx. Bad signatures and malformed payloads get a 400 and
// events for requests this service does not know are acknowledged.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.Logger.Error("HandleWebhook: failed to read body", "error", err)
		h.HandleServiceError(w, internal.NewValidationError("invalid webhook body", internal.ErrCodeInvalidPayload))
		return
	}

	outcome, err := h.Reconciler.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, internal.ErrRequestNotFound):
			h.Logger.Warn("HandleWebhook: acknowledging event for unknown request", "error", err)
			h.WriteJSON(w, http.StatusOK, WebhookAck{Received: true})
		case errors.Is(err, internal.ErrSignatureInvalid):
			h.Logger.Warn("HandleWebhook: signature verification failed")
			h.HandleServiceError(w, err)
		default:
			h.HandleServiceError(w, err)
		}
		return
	}

	if outcome != nil {
		h.Logger.Info("HandleWebhook: event applied",
			"request_id", outcome.RequestID,
			"payment_intent_id", outcome.PaymentIntentID,
			"status", outcome.PaymentStatus,
			"degraded", outcome.Degraded)
	}

	h.WriteJSON(w, http.StatusOK, WebhookAck{Received: true})
}
