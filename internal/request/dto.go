package request

import (
	errors "github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/core/common/validation"
)

type CreateRequestDTO struct {
	ProviderID  string `json:"provider_id"`
	ServiceName string `json:"service_name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

func (dto CreateRequestDTO) Validate(clientID string) *errors.AppError {
	v := validation.NewValidator()
	v.Field("provider_id", dto.ProviderID).Required().MaxLength(64).
		Custom(func(value interface{}) *errors.AppError {
			if value == clientID {
				return errors.NewValidationFieldError("provider_id", "cannot request a service from yourself", errors.ErrCodeValidationFailed)
			}
			return nil
		})
	v.Field("service_name", dto.ServiceName).Required().MaxLength(200)
	v.Field("description", dto.Description).MaxLength(2000)
	v.Field("location", dto.Location).MaxLength(500)
	v.Field("date", dto.Date).MaxLength(64)
	v.Field("time", dto.Time).MaxLength(64)
	return v.Validate()
}

type RejectRequestDTO struct {
	Reason string `json:"reason,omitempty"`
}

type SetPriceDTO struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (dto SetPriceDTO) Validate() *errors.AppError {
	return validation.ValidatePrice(dto.Amount, dto.Currency)
}

type ReviewDTO struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

func (dto ReviewDTO) Validate() *errors.AppError {
	return validation.ValidateRating(dto.Rating, dto.Comment)
}

type ListResponse struct {
	Requests []*Request `json:"requests"`
	Count    int        `json:"count"`
}
