package payment

import (
	"fmt"

	domain "github.com/allinbloomus-wq/allinbloom/internal/entity"
	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// APIError is a non-2xx answer from a provider API. 4xx unwraps to the
// rejected sentinel so callers can tell a definitive decline from an outage.
type APIError struct {
	Provider   domain.Provider
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api: http %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api: http %d", e.Provider, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return usecase.ErrProviderRejected
	}
	return usecase.ErrProviderTransient
}
