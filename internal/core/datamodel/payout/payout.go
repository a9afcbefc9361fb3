package payout

import "time"

type ProviderPayoutAccount struct {
	ProviderID         string    `gorm:"column:provider_id;primaryKey;type:varchar(64)"`
	DestinationAccount string    `gorm:"column:destination_account;not null"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProviderPayoutAccount) TableName() string {
	return "provider_payout_accounts"
}
