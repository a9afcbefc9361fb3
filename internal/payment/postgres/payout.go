package postgres

import (
	"context"
	"errors"
	"time"

	payoutDatamodel "github.com/frahmantamala/service-marketplace/internal/core/datamodel/payout"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayoutRepository is the provider payout directory.
type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// PayoutDestination returns "" for providers without a payout account.
func (r *PayoutRepository) PayoutDestination(ctx context.Context, providerID string) (string, error) {
	var row payoutDatamodel.ProviderPayoutAccount
	err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return row.DestinationAccount, nil
}

// SetDestination registers or replaces a provider's payout account.
func (r *PayoutRepository) SetDestination(ctx context.Context, providerID, destination string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"destination_account", "updated_at"}),
	}).Create(&payoutDatamodel.ProviderPayoutAccount{
		ProviderID:         providerID,
		DestinationAccount: destination,
		CreatedAt:          now,
		UpdatedAt:          now,
	}).Error
}
