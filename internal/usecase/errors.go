package usecase

import (
	"errors"
	"fmt"
)

// Error taxonomy for the checkout surface. Handlers map these with errors.Is:
// validation and configuration problems are the caller's 4xx, transient
// provider trouble is a 502 with the order left PENDING, and authorization
// failures surface as "not found" so order existence never leaks.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotConfigured     = errors.New("integration not configured")
	ErrProviderTransient = errors.New("provider unavailable")
	ErrProviderRejected  = errors.New("provider rejected payment")
	ErrAuthorization     = errors.New("not authorized")
	ErrNotFound          = errors.New("not found")
	ErrIntegrityConflict = errors.New("correlation id conflict")
)

// Invalid wraps a user-facing message into ErrValidation.
func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// UserMessage strips the sentinel prefix from a validation error so handlers
// can return the human-readable part.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var detail string
	if errors.Is(err, ErrValidation) {
		detail = err.Error()
		prefix := ErrValidation.Error() + ": "
		if len(detail) > len(prefix) && detail[:len(prefix)] == prefix {
			return detail[len(prefix):]
		}
	}
	return err.Error()
}
