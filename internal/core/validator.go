package core

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"leadflow/internal/types"
)

// Validator wraps go-playground/validator and maps failures to
// validation_invalid_payload AppErrors with per-field details.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks dst against its validate struct tags.
func (v *Validator) Validate(dst any) error {
	err := v.v.Struct(dst)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "request payload could not be validated", err)
	}
	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return types.NewAppError(types.ErrCodeValidationInvalidPayload, "request payload failed validation", err).WithDetails(details)
}
