package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnexpectedStatus marks a response whose status code was not 2xx.
var ErrUnexpectedStatus = errors.New("unexpected status")

// NetworkError is the typed failure surfaced by Fetcher.Fetch. Callers decide
// whether it means "this strategy produced nothing" or something worse.
type NetworkError struct {
	URL        string
	StatusCode int
	Attempts   int
	Retryable  bool
	Timeout    bool
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d (%s) after %d attempt(s)",
			e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Attempts)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed after %d attempt(s)", e.URL, e.Attempts)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NetworkError carrying HTTP 404 or 410.
func IsNotFound(err error) bool {
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	return netErr.StatusCode == http.StatusNotFound || netErr.StatusCode == http.StatusGone
}
