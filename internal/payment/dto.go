package payment

import (
	errors "github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/core/common/validation"
)

type CreateIntentDTO struct {
	RequestID string `json:"request_id"`
}

func (dto CreateIntentDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("request_id", dto.RequestID).Required().MaxLength(64)
	return v.Validate()
}

type ConfirmPaymentDTO struct {
	RequestID       string `json:"request_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

func (dto ConfirmPaymentDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("request_id", dto.RequestID).Required().MaxLength(64)
	v.Field("payment_intent_id", dto.PaymentIntentID).Required().MaxLength(255)
	return v.Validate()
}

type WebhookAck struct {
	Received bool `json:"received"`
}
