package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
)

// Validator はecho.Validatorをgo-playground/validatorで実装します
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.v.Struct(i); err != nil {
		return apperror.Wrap(apperror.KindValidationFailed, err, "validation error: %v", err)
	}
	return nil
}
