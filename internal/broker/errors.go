package broker

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
)

var (
	// ErrExchangeTimeout is returned when the token endpoint does not answer
	// within the configured exchange timeout.
	ErrExchangeTimeout = errors.New("token exchange timed out")

	// ErrExchangeTransport wraps network-level failures talking to the token endpoint.
	ErrExchangeTransport = errors.New("token exchange transport error")
)

// AuthExchangeError is returned when the token endpoint answers with a
// non-success status or a body that carries no usable token.
type AuthExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: status %d: %v: %s", e.StatusCode, e.Err, e.Body)
	}
	return fmt.Sprintf("token exchange failed: status %d: %s", e.StatusCode, e.Body)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the exchange later may succeed
// (rate limiting or a server-side failure). Identity errors are not temporary.
func (e *AuthExchangeError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
