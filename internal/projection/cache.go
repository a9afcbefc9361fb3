package projection

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/frahmantamala/service-marketplace/internal/request"
)

// Cache mirrors the requests a user takes part in. Every mutation is applied
// locally first and then sent to the API; a successful reply overwrites the
// local row, a failed one leaves the tentative row until the next fetch.
type Cache struct {
	mu     sync.Mutex
	rows   map[string][]*request.Request
	remote RemoteAPI
	store  Persister
	logger *slog.Logger
	now    func() time.Time
}

// NewCache builds a cache over remote. store may be nil for a memory-only
// cache.
func NewCache(remote RemoteAPI, store Persister, logger *slog.Logger) *Cache {
	return &Cache{
		rows:   make(map[string][]*request.Request),
		remote: remote,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Requests returns the cached rows for userID, loading them from the
// persister on first use.
func (c *Cache) Requests(userID string) []*request.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAll(c.load(userID))
}

func (c *Cache) Get(userID, id string) (*request.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, row := range c.load(userID) {
		if row.ID == id {
			return row.Clone(), true
		}
	}
	return nil, false
}

// FetchRequests replaces the user's rows with what the server holds. On error
// the cached rows are kept.
func (c *Cache) FetchRequests(ctx context.Context, userID string) ([]*request.Request, error) {
	rows, err := c.remote.ListRequests(ctx)
	if err != nil {
		c.logger.Warn("fetch requests failed, serving cached rows", "user_id", userID, "error", err)
		return nil, err
	}

	fresh := make([]*request.Request, 0, len(rows))
	for _, row := range rows {
		if row.IsParticipant(userID) {
			fresh = append(fresh, row)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[userID] = fresh
	c.persist(userID)
	return cloneAll(fresh), nil
}

func (c *Cache) Accept(ctx context.Context, userID, id string) (*request.Request, error) {
	c.transition(userID, id, request.StatusAccepted, func(r *request.Request, now time.Time) {
		r.AcceptedAt = &now
	})
	return c.commit(userID, id)(c.remote.Accept(ctx, id))
}

func (c *Cache) Reject(ctx context.Context, userID, id, reason string) (*request.Request, error) {
	c.transition(userID, id, request.StatusRejected, func(r *request.Request, now time.Time) {
		r.RejectedAt = &now
		if reason != "" {
			r.RejectionReason = &reason
		}
	})
	return c.commit(userID, id)(c.remote.Reject(ctx, id, reason))
}

func (c *Cache) Cancel(ctx context.Context, userID, id string) (*request.Request, error) {
	c.transition(userID, id, request.StatusCancelled, func(r *request.Request, now time.Time) {
		r.CancelledAt = &now
	})
	return c.commit(userID, id)(c.remote.Cancel(ctx, id))
}

func (c *Cache) SetPrice(ctx context.Context, userID, id string, amount int64, currency string) (*request.Request, error) {
	c.mutate(userID, id, func(r *request.Request) bool {
		if r.Status != request.StatusAccepted || r.IsPaid() || !r.IsProvider(userID) {
			return false
		}
		cur := strings.ToLower(strings.TrimSpace(currency))
		r.PriceAmount = &amount
		r.Currency = &cur
		return true
	})
	return c.commit(userID, id)(c.remote.SetPrice(ctx, id, amount, currency))
}

// InitiatePayment asks the API for an intent to confirm and records it on the
// cached row.
func (c *Cache) InitiatePayment(ctx context.Context, userID, id string) (*payment.IntentResult, error) {
	c.mutate(userID, id, func(r *request.Request) bool {
		if r.Status != request.StatusAccepted || !r.IsPriced() || r.IsPaid() || !r.IsClient(userID) {
			return false
		}
		r.PaymentStatus = request.PaymentStatusProcessing
		return true
	})

	result, err := c.remote.CreatePaymentIntent(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mutate(userID, id, func(r *request.Request) bool {
		intentID := result.PaymentIntentID
		r.PaymentIntentID = &intentID
		r.PaymentStatus = payment.PaymentStatusFor(result.Status)
		return true
	})
	return result, nil
}

// MarkPaid reports a client-side confirmation to the API and folds the
// reconciled outcome into the cached row.
func (c *Cache) MarkPaid(ctx context.Context, userID, id, intentID string) (*payment.Outcome, error) {
	c.mutate(userID, id, func(r *request.Request) bool {
		if r.Status != request.StatusAccepted && r.Status != request.StatusCompleted {
			return false
		}
		now := c.now()
		r.PaymentStatus = request.PaymentStatusSucceeded
		r.PaymentIntentID = &intentID
		if r.PaidAt == nil {
			r.PaidAt = &now
		}
		r.Status = request.StatusCompleted
		r.UpdatedAt = now
		return true
	})

	outcome, err := c.remote.ConfirmPayment(ctx, id, intentID)
	if err != nil {
		return nil, err
	}

	c.mutate(userID, id, func(r *request.Request) bool {
		r.PaymentStatus = outcome.PaymentStatus
		if outcome.RequestStatus != "" {
			r.Status = outcome.RequestStatus
		}
		r.PaidAt = outcome.PaidAt
		if outcome.PaymentIntentID != "" {
			pi := outcome.PaymentIntentID
			r.PaymentIntentID = &pi
		}
		return true
	})
	return outcome, nil
}

// Delete drops the row locally before asking the API to delete it.
func (c *Cache) Delete(ctx context.Context, userID, id string) error {
	c.mu.Lock()
	rows := c.load(userID)
	kept := make([]*request.Request, 0, len(rows))
	for _, row := range rows {
		if row.ID != id {
			kept = append(kept, row)
		}
	}
	c.rows[userID] = kept
	c.persist(userID)
	c.mu.Unlock()

	return c.remote.Delete(ctx, id)
}

// transition applies a status change locally when the state machine allows
// this user to make it.
func (c *Cache) transition(userID, id string, to request.Status, stamp func(*request.Request, time.Time)) {
	c.mutate(userID, id, func(r *request.Request) bool {
		if !request.CanTransition(r.Status, to, r.RoleOf(userID)) {
			return false
		}
		now := c.now()
		r.Status = to
		r.UpdatedAt = now
		stamp(r, now)
		return true
	})
}

// mutate edits a copy of the cached row and swaps it in when apply reports a
// change. Rows that are not cached are left alone.
func (c *Cache) mutate(userID, id string, apply func(*request.Request) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := c.load(userID)
	for i, row := range rows {
		if row.ID != id {
			continue
		}
		cp := row.Clone()
		if apply(cp) {
			rows[i] = cp
			c.persist(userID)
		}
		return
	}
}

// commit stores an authoritative row returned by the API.
func (c *Cache) commit(userID, id string) func(*request.Request, error) (*request.Request, error) {
	return func(row *request.Request, err error) (*request.Request, error) {
		if err != nil {
			c.logger.Warn("remote update failed, keeping optimistic row", "request_id", id, "error", err)
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		rows := c.load(userID)
		replaced := false
		for i := range rows {
			if rows[i].ID == row.ID {
				rows[i] = row
				replaced = true
				break
			}
		}
		if !replaced {
			c.rows[userID] = append(rows, row)
		}
		c.persist(userID)
		return row.Clone(), nil
	}
}

// load must be called with mu held.
func (c *Cache) load(userID string) []*request.Request {
	if rows, ok := c.rows[userID]; ok {
		return rows
	}
	var rows []*request.Request
	if c.store != nil {
		stored, err := c.store.Load(userID)
		if err != nil {
			c.logger.Error("failed to load cached requests", "user_id", userID, "error", err)
		}
		rows = stored
	}
	c.rows[userID] = rows
	return rows
}

// persist must be called with mu held.
func (c *Cache) persist(userID string) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(userID, c.rows[userID]); err != nil {
		c.logger.Error("failed to persist cached requests", "user_id", userID, "error", err)
	}
}

func cloneAll(rows []*request.Request) []*request.Request {
	out := make([]*request.Request, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
