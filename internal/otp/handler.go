package otp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/service-marketplace/internal/transport"
)

type ServiceAPI interface {
	Issue(ctx context.Context, subject string) error
	Verify(ctx context.Context, subject, code string) (*VerifyResult, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// Issue handles POST /api/v1/auth/otp. It answers 202 without saying whether
// the subject is known.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var dto IssueDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if verr := dto.Validate(); verr != nil {
		h.HandleServiceError(w, verr)
		return
	}

	if err := h.Service.Issue(r.Context(), dto.Subject); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusAccepted, map[string]string{"message": "verification code sent"})
}

// Verify handles POST /api/v1/auth/otp/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var dto VerifyDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if verr := dto.Validate(); verr != nil {
		h.HandleServiceError(w, verr)
		return
	}

	result, err := h.Service.Verify(r.Context(), dto.Subject, dto.OTP)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}
