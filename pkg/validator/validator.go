//nolint:gochecknoglobals
package validator

import (
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Validator - Validator type.
type Validator struct {
	validate *validator.Validate
}

var (
	validatorInstance *Validator
	validatorOnce     sync.Once
)

// NewValidator - return the shared Validator.
func NewValidator() *Validator {
	validatorOnce.Do(func() {
		validatorInstance = &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
	})

	return validatorInstance
}

// ValidateStruct - apply validation.
func (v *Validator) ValidateStruct(str interface{}) []*ValidationErrorResponse {
	var valErrorsResResult []*ValidationErrorResponse

	err := v.validate.Struct(str)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			for _, err := range validationErrors {
				var element ValidationErrorResponse
				element.FailedField = err.StructNamespace()
				element.Tag = err.Tag()
				element.Value = err.Param()
				valErrorsResResult = append(valErrorsResResult, &element)
			}
		}
	}

	return valErrorsResResult
}

// Validate - apply validation and fold the failures into a single *ValidationError, nil when str is valid.
func (v *Validator) Validate(str interface{}) error {
	if failures := v.ValidateStruct(str); len(failures) > 0 {
		return NewValidationError(failures)
	}

	return nil
}
