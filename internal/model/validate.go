// internal/model/validate.go
package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a record against its struct tags. A failure means the
// record must not be persisted and never reaches the dispatcher.
func Validate(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation: %w", err)
	}
	return nil
}
