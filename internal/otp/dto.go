package otp

import (
	errors "github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/core/common/validation"
)

type IssueDTO struct {
	Subject string `json:"subject"`
}

func (dto IssueDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("subject", dto.Subject).Required().MaxLength(255)
	return v.Validate()
}

type VerifyDTO struct {
	Subject string `json:"subject"`
	OTP     string `json:"otp"`
}

func (dto VerifyDTO) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("subject", dto.Subject).Required().MaxLength(255)
	v.Field("otp", dto.OTP).Required().MinLength(codeLength).MaxLength(codeLength)
	return v.Validate()
}
