package payment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/transport"
	"github.com/frahmantamala/service-marketplace/pkg/logger"
	"github.com/go-chi/chi"
)

type BrokerAPI interface {
	GetOrCreatePaymentIntent(ctx context.Context, requestID, expectedClientID string) (*IntentResult, error)
}

type ReconcilerAPI interface {
	ConfirmPayment(ctx context.Context, requestID, intentID, callerID string) (*Outcome, error)
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Outcome, error)
}

type Handler struct {
	*transport.BaseHandler
	Broker     BrokerAPI
	Reconciler ReconcilerAPI
	Ledger     LedgerRepository
}

func NewHandler(broker BrokerAPI, reconciler ReconcilerAPI, ledger LedgerRepository) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Broker:      broker,
		Reconciler:  reconciler,
		Ledger:      ledger,
	}
}

// CreateIntent handles POST /api/v1/payments/intent
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	var dto CreateIntentDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if verr := dto.Validate(); verr != nil {
		h.HandleServiceError(w, verr)
		return
	}

	result, err := h.Broker.GetOrCreatePaymentIntent(r.Context(), dto.RequestID, callerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// ConfirmPayment handles POST /api/v1/payments/confirm
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	var dto ConfirmPaymentDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if verr := dto.Validate(); verr != nil {
		h.HandleServiceError(w, verr)
		return
	}

	outcome, err := h.Reconciler.ConfirmPayment(r.Context(), dto.RequestID, dto.PaymentIntentID, callerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, outcome)
}

// GetLedgerEntry handles GET /api/v1/payments/ledger/{intentId}. Only the
// request's client and provider may read it.
func (h *Handler) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	entry, err := h.Ledger.GetByIntentID(r.Context(), chi.URLParam(r, "intentId"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if entry.ClientID != callerID && entry.ProviderID != callerID {
		h.HandleServiceError(w, internal.ErrUnauthorizedAccess)
		return
	}

	h.WriteJSON(w, http.StatusOK, entry)
}
