package auvo

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNetwork wraps timeouts and connection failures. Retryable.
	ErrNetwork = errors.New("upstream unreachable")
	// ErrUnauthorized is returned for 401/403 responses.
	ErrUnauthorized = errors.New("upstream rejected credential")
	// ErrMalformedResponse is returned when a 200 body is not the expected envelope.
	ErrMalformedResponse = errors.New("malformed upstream response")
	// ErrPageLimitExceeded is returned when paging does not terminate within MaxPages.
	ErrPageLimitExceeded = errors.New("upstream page limit exceeded")
	// ErrInvalidRecord is returned by ParseTaskRecord for unusable records.
	ErrInvalidRecord = errors.New("invalid task record")
)

// StatusError is a non-200 upstream response.
type StatusError struct {
	StatusCode int
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Sprintf("upstream rejected credential (%d)", e.StatusCode)
	case http.StatusBadRequest:
		return fmt.Sprintf("upstream rejected request (400): %s", e.Body)
	default:
		return fmt.Sprintf("unexpected upstream status %d", e.StatusCode)
	}
}

// Unwrap exposes ErrUnauthorized for 401/403 so errors.Is works.
func (e *StatusError) Unwrap() error {
	return e.kind
}
