package request

import "time"

type ServiceRequest struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)"`
	ClientID         string     `gorm:"column:client_id;not null;index"`
	ProviderID       string     `gorm:"column:provider_id;not null;index"`
	ServiceName      string     `gorm:"column:service_name;not null"`
	Description      string     `gorm:"column:description"`
	Location         string     `gorm:"column:location"`
	Date             string     `gorm:"column:date"`
	Time             string     `gorm:"column:time"`
	Status           string     `gorm:"column:status;not null;default:pending;index"`
	PriceAmount      *int64     `gorm:"column:price_amount"`
	Currency         *string    `gorm:"column:currency"`
	OriginalCurrency *string    `gorm:"column:original_currency"`
	PaymentStatus    string     `gorm:"column:payment_status;not null;default:unpaid;index"`
	PaymentIntentID  *string    `gorm:"column:payment_intent_id;index"`
	PaidAt           *time.Time `gorm:"column:paid_at"`
	AcceptedAt       *time.Time `gorm:"column:accepted_at"`
	RejectedAt       *time.Time `gorm:"column:rejected_at"`
	RejectionReason  *string    `gorm:"column:rejection_reason"`
	CancelledAt      *time.Time `gorm:"column:cancelled_at"`
	ReviewedAt       *time.Time `gorm:"column:reviewed_at"`
	ReviewRating     *int       `gorm:"column:review_rating"`
	ReviewComment    *string    `gorm:"column:review_comment"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (ServiceRequest) TableName() string {
	return "service_requests"
}
