package postgres

import (
	"context"
	"errors"

	"github.com/frahmantamala/service-marketplace/internal"
	ledgerDatamodel "github.com/frahmantamala/service-marketplace/internal/core/datamodel/ledger"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	"github.com/frahmantamala/service-marketplace/internal/request"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository implements payment.LedgerRepository using GORM
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Upsert inserts the entry or updates the row for its intent. A succeeded
// row keeps its status, a zero fee never overwrites a recorded one, a refund
// flag is never cleared, and the metadata of the first write is kept.
func (r *LedgerRepository) Upsert(ctx context.Context, entry *payment.LedgerEntry) error {
	row := toDataModel(entry)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "payment_intent_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"amount":   gorm.Expr("excluded.amount"),
			"currency": gorm.Expr("excluded.currency"),
			"status": gorm.Expr("CASE WHEN payment_ledger.status = ? THEN payment_ledger.status ELSE excluded.status END",
				request.PaymentStatusSucceeded),
			"platform_fee":    gorm.Expr("CASE WHEN excluded.platform_fee > 0 THEN excluded.platform_fee ELSE payment_ledger.platform_fee END"),
			"refund_required": gorm.Expr("payment_ledger.refund_required OR excluded.refund_required"),
			"updated_at":      gorm.Expr("excluded.updated_at"),
		}),
	}).Create(row).Error
}

func (r *LedgerRepository) GetByIntentID(ctx context.Context, intentID string) (*payment.LedgerEntry, error) {
	var row ledgerDatamodel.PaymentLedgerEntry
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrIntentNotFound
		}
		return nil, err
	}
	return fromDataModel(&row), nil
}

func (r *LedgerRepository) ListByRequest(ctx context.Context, requestID string) ([]*payment.LedgerEntry, error) {
	var rows []*ledgerDatamodel.PaymentLedgerEntry
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]*payment.LedgerEntry, len(rows))
	for i, row := range rows {
		entries[i] = fromDataModel(row)
	}
	return entries, nil
}

func toDataModel(e *payment.LedgerEntry) *ledgerDatamodel.PaymentLedgerEntry {
	return &ledgerDatamodel.PaymentLedgerEntry{
		PaymentIntentID:  e.PaymentIntentID,
		RequestID:        e.RequestID,
		ClientID:         e.ClientID,
		ProviderID:       e.ProviderID,
		Amount:           e.Amount,
		Currency:         e.Currency,
		OriginalCurrency: e.OriginalCurrency,
		Status:           e.Status,
		PlatformFee:      e.PlatformFee,
		RefundRequired:   e.RefundRequired,
		Metadata:         datatypes.JSONMap(e.Metadata),
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func fromDataModel(row *ledgerDatamodel.PaymentLedgerEntry) *payment.LedgerEntry {
	return &payment.LedgerEntry{
		PaymentIntentID:  row.PaymentIntentID,
		RequestID:        row.RequestID,
		ClientID:         row.ClientID,
		ProviderID:       row.ProviderID,
		Amount:           row.Amount,
		Currency:         row.Currency,
		OriginalCurrency: row.OriginalCurrency,
		Status:           row.Status,
		PlatformFee:      row.PlatformFee,
		RefundRequired:   row.RefundRequired,
		Metadata:         map[string]interface{}(row.Metadata),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}
