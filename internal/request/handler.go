package request

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/service-marketplace/internal/transport"
	"github.com/frahmantamala/service-marketplace/pkg/logger"
	"github.com/go-chi/chi"
)

type ServiceAPI interface {
	CreateRequest(ctx context.Context, clientID string, dto CreateRequestDTO) (*Request, error)
	GetRequest(ctx context.Context, id, callerID string) (*Request, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Request, error)
	Accept(ctx context.Context, id, callerID string) (*Request, error)
	Reject(ctx context.Context, id, callerID string, dto RejectRequestDTO) (*Request, error)
	Cancel(ctx context.Context, id, callerID string) (*Request, error)
	SetPrice(ctx context.Context, id, callerID string, dto SetPriceDTO) (*Request, error)
	Review(ctx context.Context, id, callerID string, dto ReviewDTO) (*Request, error)
	Delete(ctx context.Context, id, callerID string) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	var dto CreateRequestDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	req, err := h.Service.CreateRequest(r.Context(), callerID, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	reqs, err := h.Service.ListForUser(r.Context(), callerID, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ListResponse{Requests: reqs, Count: len(reqs)})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	req, err := h.Service.GetRequest(r.Context(), chi.URLParam(r, "id"), callerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id, callerID string) (*Request, error) {
		return h.Service.Accept(ctx, id, callerID)
	})
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id, callerID string) (*Request, error) {
		return h.Service.Cancel(ctx, id, callerID)
	})
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var dto RejectRequestDTO
	// the body is optional for reject
	if r.ContentLength > 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}
	h.transition(w, r, func(ctx context.Context, id, callerID string) (*Request, error) {
		return h.Service.Reject(ctx, id, callerID, dto)
	})
}

func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var dto SetPriceDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, id, callerID string) (*Request, error) {
		return h.Service.SetPrice(ctx, id, callerID, dto)
	})
}

func (h *Handler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	var dto ReviewDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, id, callerID string) (*Request, error) {
		return h.Service.Review(ctx, id, callerID, dto)
	})
}

func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "id"), callerID); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, callerID string) (*Request, error)) {
	callerID, ok := h.CallerID(w, r)
	if !ok {
		return
	}

	req, err := op(r.Context(), chi.URLParam(r, "id"), callerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, req)
}
