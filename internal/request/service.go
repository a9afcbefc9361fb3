package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/core/events"
)

// Repository is the durable Request Store. It owns the canonical status and
// payment fields; every write that depends on prior state is conditional.
type Repository interface {
	Create(ctx context.Context, req *Request) error
	GetByID(ctx context.Context, id string) (*Request, error)
	ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]*Request, error)
	// UpdateLifecycle persists status, price and review fields only if the
	// stored status still equals expected; otherwise ErrInvalidTransition.
	UpdateLifecycle(ctx context.Context, req *Request, expected Status) error
	Delete(ctx context.Context, id string) error

	AttachIntent(ctx context.Context, requestID, intentID, paymentStatus string) error
	ApplySettlement(ctx context.Context, requestID, intentID string, paidAt time.Time) error
	ApplySettlementPaymentOnly(ctx context.Context, requestID, intentID string, paidAt time.Time) error
	ApplyPaymentStatus(ctx context.Context, requestID, intentID, paymentStatus string) error
	ListSettledIncomplete(ctx context.Context, limit int) ([]*Request, error)
}

type Service struct {
	repo     Repository
	currency *CurrencyPolicy
	events   events.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, currency *CurrencyPolicy, publisher events.Publisher, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		currency: currency,
		events:   publisher,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) CreateRequest(ctx context.Context, clientID string, dto CreateRequestDTO) (*Request, error) {
	if err := dto.Validate(clientID); err != nil {
		s.logger.Warn("request validation failed", "error", err, "client_id", clientID)
		return nil, err
	}

	req := NewRequest(clientID, dto, s.now())
	if err := s.repo.Create(ctx, req); err != nil {
		s.logger.Error("failed to create request", "error", err, "client_id", clientID)
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.logger.Info("service request created",
		"request_id", req.ID,
		"client_id", req.ClientID,
		"provider_id", req.ProviderID)

	return req, nil
}

// load fetches a request and resolves the caller's role on it. Callers with no
// role get ErrUnauthorizedAccess.
func (s *Service) load(ctx context.Context, id, callerID string) (*Request, Actor, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, ActorNone, err
	}
	actor := req.RoleOf(callerID)
	if actor == ActorNone {
		s.logger.Warn("unauthorized access to request", "request_id", id, "caller_id", callerID)
		return nil, ActorNone, internal.ErrUnauthorizedAccess
	}
	return req, actor, nil
}

func (s *Service) GetRequest(ctx context.Context, id, callerID string) (*Request, error) {
	req, _, err := s.load(ctx, id, callerID)
	return req, err
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Request, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	reqs, err := s.repo.ListByParticipant(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list requests", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

func (s *Service) Accept(ctx context.Context, id, callerID string) (*Request, error) {
	req, err := s.mutate(ctx, id, callerID, "accept", func(req *Request, actor Actor, now time.Time) error {
		return req.Accept(actor, now)
	})
	if err != nil {
		return nil, err
	}

	// published only once the accepted state is durable
	if s.events != nil {
		evt := events.NewRequestAcceptedEvent(req.ID, req.ClientID, req.ProviderID, req.ServiceName)
		if perr := s.events.Publish(ctx, evt); perr != nil {
			s.logger.Error("failed to publish request accepted event", "error", perr, "request_id", req.ID)
		}
	}
	return req, nil
}

func (s *Service) Reject(ctx context.Context, id, callerID string, dto RejectRequestDTO) (*Request, error) {
	return s.mutate(ctx, id, callerID, "reject", func(req *Request, actor Actor, now time.Time) error {
		return req.Reject(actor, dto.Reason, now)
	})
}

func (s *Service) Cancel(ctx context.Context, id, callerID string) (*Request, error) {
	return s.mutate(ctx, id, callerID, "cancel", func(req *Request, actor Actor, now time.Time) error {
		return req.Cancel(actor, now)
	})
}

// SetPrice records the provider's quote. Re-pricing before payment silently
// supersedes the previous quote; the broker mints a fresh intent on mismatch.
func (s *Service) SetPrice(ctx context.Context, id, callerID string, dto SetPriceDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	settlement, original := s.currency.Resolve(dto.Currency)

	req, err := s.mutate(ctx, id, callerID, "set_price", func(req *Request, actor Actor, now time.Time) error {
		return req.SetPrice(actor, dto.Amount, settlement, original, now)
	})
	if err != nil {
		return nil, err
	}

	if settlement != original {
		s.logger.Info("price currency mapped to settlement currency",
			"request_id", id,
			"original_currency", original,
			"settlement_currency", settlement)
	}
	return req, nil
}

func (s *Service) Review(ctx context.Context, id, callerID string, dto ReviewDTO) (*Request, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, callerID, "review", func(req *Request, actor Actor, now time.Time) error {
		return req.Review(actor, dto.Rating, dto.Comment, now)
	})
}

func (s *Service) Delete(ctx context.Context, id, callerID string) error {
	req, _, err := s.load(ctx, id, callerID)
	if err != nil {
		return err
	}
	if !req.CanDelete() {
		return internal.ErrInvalidTransition.WithMessage("request in status " + string(req.Status) + " cannot be deleted")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.logger.Error("failed to delete request", "error", err, "request_id", id)
		return fmt.Errorf("delete request: %w", err)
	}
	s.logger.Info("service request deleted", "request_id", id, "caller_id", callerID)
	return nil
}

// mutate runs a domain operation against the stored row and persists it with a
// compare-and-set on the prior status, so a concurrent move out of that status
// surfaces as ErrInvalidTransition instead of being overwritten.
func (s *Service) mutate(ctx context.Context, id, callerID, op string, apply func(*Request, Actor, time.Time) error) (*Request, error) {
	req, actor, err := s.load(ctx, id, callerID)
	if err != nil {
		return nil, err
	}

	prior := req.Status
	if err := apply(req, actor, s.now()); err != nil {
		s.logWarnOrError(op, id, callerID, prior, err)
		return nil, err
	}

	if err := s.repo.UpdateLifecycle(ctx, req, prior); err != nil {
		s.logWarnOrError(op, id, callerID, prior, err)
		return nil, err
	}

	s.logger.Info("service request updated",
		"op", op,
		"request_id", id,
		"caller_id", callerID,
		"from_status", prior,
		"to_status", req.Status)

	return req, nil
}

func (s *Service) logWarnOrError(op, id, callerID string, status Status, err error) {
	var appErr *internal.AppError
	if errors.As(err, &appErr) && appErr.StatusCode < 500 {
		s.logger.Warn("request operation refused",
			"op", op, "request_id", id, "caller_id", callerID, "status", status, "reason", appErr.Code)
		return
	}
	s.logger.Error("request operation failed",
		"op", op, "request_id", id, "caller_id", callerID, "status", status, "error", err)
}
