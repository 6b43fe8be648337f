package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yorozuya-cybersecurity/yorosec-probe/pkg/utils"
)

// Sentinel errors matched by *APIError. Callers should use errors.Is().
var (
	// ErrUnauthorized covers 401 and 403 responses.
	ErrUnauthorized = errors.New("platform: unauthorized")

	// ErrNotFound indicates the requested scan or report does not exist.
	ErrNotFound = errors.New("platform: not found")

	// ErrNoToken indicates a login response carried no token.
	ErrNoToken = errors.New("platform: login response has no token")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := utils.Truncate(e.Body, 256)
	if len(body) < len(e.Body) {
		body += "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsTransient reports whether err is worth retrying on the next poll:
// transport failures, timeouts, 408, 429 and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return true
		}
		return false
	}
	return true
}
