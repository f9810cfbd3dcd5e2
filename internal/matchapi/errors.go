package matchapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAuth matches any 401/403 response; the caller should re-authenticate.
var ErrAuth = errors.New("authentication required")

// HTTPError is a non-2xx response.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("match api %s %s: status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

func (e *HTTPError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrAuth && e.IsAuth()
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}
