package ledger

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentLedgerEntry is keyed by the processor's intent id, which is the
// natural idempotency key for every write that touches it.
type PaymentLedgerEntry struct {
	PaymentIntentID  string            `gorm:"column:payment_intent_id;primaryKey;type:varchar(255)"`
	RequestID        string            `gorm:"column:request_id;not null;index"`
	ClientID         string            `gorm:"column:client_id;not null"`
	ProviderID       string            `gorm:"column:provider_id;not null"`
	Amount           int64             `gorm:"column:amount;not null"`
	Currency         string            `gorm:"column:currency;not null"`
	OriginalCurrency string            `gorm:"column:original_currency"`
	Status           string            `gorm:"column:status;not null"`
	PlatformFee      int64             `gorm:"column:platform_fee;not null;default:0"`
	RefundRequired   bool              `gorm:"column:refund_required;not null;default:false"`
	Metadata         datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentLedgerEntry) TableName() string {
	return "payment_ledger"
}
