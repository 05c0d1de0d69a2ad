package auth

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"marketplace-inbox/errors"
)

var validate = validator.New()

// ValidateRequest checks struct tags on an incoming payload and reports every
// failing field as ErrValidation.
func ValidateRequest(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	reasons := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		reasons = append(reasons, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", errors.ErrValidation, strings.Join(reasons, ", "))
}
