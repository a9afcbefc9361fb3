package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/service-marketplace/internal"
	requestDatamodel "github.com/frahmantamala/service-marketplace/internal/core/datamodel/request"
	"github.com/frahmantamala/service-marketplace/internal/request"
	"gorm.io/gorm"
)

// RequestRepository implements request.Repository using GORM
type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *request.Request) error {
	return r.db.WithContext(ctx).Create(request.ToDataModel(req)).Error
}

func (r *RequestRepository) GetByID(ctx context.Context, id string) (*request.Request, error) {
	var row requestDatamodel.ServiceRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrRequestNotFound
		}
		return nil, err
	}
	return request.FromDataModel(&row), nil
}

// ListByParticipant returns requests where the user is the client or the provider, newest first.
func (r *RequestRepository) ListByParticipant(ctx context.Context, userID string, limit, offset int) ([]*request.Request, error) {
	var rows []*requestDatamodel.ServiceRequest
	err := r.db.WithContext(ctx).
		Where("client_id = ? OR provider_id = ?", userID, userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return request.FromDataModelSlice(rows), nil
}

// UpdateLifecycle writes req if the stored row is still in expected. Outside
// completed, a row whose payment has succeeded belongs to settlement and is
// never moved by a lifecycle write.
func (r *RequestRepository) UpdateLifecycle(ctx context.Context, req *request.Request, expected request.Status) error {
	q := r.db.WithContext(ctx).
		Model(&requestDatamodel.ServiceRequest{}).
		Where("id = ? AND status = ?", req.ID, string(expected))
	if expected != request.StatusCompleted {
		q = q.Where("payment_status <> ?", request.PaymentStatusSucceeded)
	}
	res := q.Updates(map[string]interface{}{
			"status":            string(req.Status),
			"price_amount":      req.PriceAmount,
			"currency":          req.Currency,
			"original_currency": req.OriginalCurrency,
			"accepted_at":       req.AcceptedAt,
			"rejected_at":       req.RejectedAt,
			"rejection_reason":  req.RejectionReason,
			"cancelled_at":      req.CancelledAt,
			"reviewed_at":       req.ReviewedAt,
			"review_rating":     req.ReviewRating,
			"review_comment":    req.ReviewComment,
			"updated_at":        req.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrStale(ctx, req.ID)
	}
	return nil
}

func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&requestDatamodel.ServiceRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrRequestNotFound
	}
	return nil
}

// AttachIntent records the intent the broker minted or reused. Only an
// accepted, unsettled request takes a new intent.
func (r *RequestRepository) AttachIntent(ctx context.Context, requestID, intentID, paymentStatus string) error {
	res := r.db.WithContext(ctx).
		Model(&requestDatamodel.ServiceRequest{}).
		Where("id = ? AND status = ? AND payment_status <> ?",
			requestID, string(request.StatusAccepted), request.PaymentStatusSucceeded).
		Updates(map[string]interface{}{
			"payment_intent_id": intentID,
			"payment_status":    paymentStatus,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrStale(ctx, requestID)
	}
	return nil
}

// ApplySettlement marks the request paid and completes it in one statement.
// paid_at keeps its first value and only an accepted request moves to
// completed, so replays and out-of-order channels converge on the same row.
// The write misses if another intent is on file.
func (r *RequestRepository) ApplySettlement(ctx context.Context, requestID, intentID string, paidAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&requestDatamodel.ServiceRequest{}).
		Where("id = ? AND (payment_intent_id IS NULL OR payment_intent_id = ?)", requestID, intentID).
		Updates(map[string]interface{}{
			"payment_status":    request.PaymentStatusSucceeded,
			"payment_intent_id": intentID,
			"paid_at":           gorm.Expr("COALESCE(paid_at, ?)", paidAt),
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				string(request.StatusAccepted), string(request.StatusCompleted)),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrStale(ctx, requestID)
	}
	return nil
}

// ApplySettlementPaymentOnly is the degraded write: payment fields without the status column.
func (r *RequestRepository) ApplySettlementPaymentOnly(ctx context.Context, requestID, intentID string, paidAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&requestDatamodel.ServiceRequest{}).
		Where("id = ? AND (payment_intent_id IS NULL OR payment_intent_id = ?)", requestID, intentID).
		Updates(map[string]interface{}{
			"payment_status":    request.PaymentStatusSucceeded,
			"payment_intent_id": intentID,
			"paid_at":           gorm.Expr("COALESCE(paid_at, ?)", paidAt),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrStale(ctx, requestID)
	}
	return nil
}

// ApplyPaymentStatus records a non-success status for the request's current
// intent. It never downgrades a succeeded payment.
func (r *RequestRepository) ApplyPaymentStatus(ctx context.Context, requestID, intentID, paymentStatus string) error {
	return r.db.WithContext(ctx).
		Model(&requestDatamodel.ServiceRequest{}).
		Where("id = ? AND payment_intent_id = ? AND payment_status <> ?",
			requestID, intentID, request.PaymentStatusSucceeded).
		Updates(map[string]interface{}{
			"payment_status": paymentStatus,
			"updated_at":     time.Now(),
		}).Error
}

// ListSettledIncomplete finds rows left behind by a degraded settlement write.
func (r *RequestRepository) ListSettledIncomplete(ctx context.Context, limit int) ([]*request.Request, error) {
	var rows []*requestDatamodel.ServiceRequest
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND status = ?", request.PaymentStatusSucceeded, string(request.StatusAccepted)).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return request.FromDataModelSlice(rows), nil
}

func (r *RequestRepository) missOrStale(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&requestDatamodel.ServiceRequest{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return internal.ErrRequestNotFound
	}
	return internal.ErrInvalidTransition.WithMessage("request changed concurrently")
}
