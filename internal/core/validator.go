package core

import (
	"github.com/go-playground/validator/v10"

	"contracthub/internal/types"
)

// Validator wraps go-playground/validator for request payload validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct-tag validation enabled.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct checks the struct's validate tags. The first failing field
// is reported as a 400 AppError with the field and tag in the details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"request validation failed",
			err,
			map[string]any{
				"field": fe.Field(),
				"rule":  fe.Tag(),
			},
		)
	}
	return types.NewAppError(types.ErrCodeValidationMissingField, "request validation failed", err)
}
