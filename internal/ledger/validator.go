package ledger

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/joescharf/bounty/internal/models"
)

// Validator wraps go-playground/validator and reports the first failure as a
// *models.ValidationError.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Struct validates s using its `validate` struct tags.
func (v *Validator) Struct(s any) error {
	if err := v.validate.Struct(s); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok && len(validationErrors) > 0 {
			fe := validationErrors[0]
			return &models.ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed on '%s' validation", fe.Tag()),
			}
		}
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
