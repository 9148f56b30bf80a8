package auth

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrConfiguration is returned when the service account identity is incomplete.
var ErrConfiguration = errors.New("service account configuration error")

// KeyImportError reasons
const (
	ReasonInvalidPEM  = "invalid_pem"
	ReasonParseFailed = "parse_failed"
	ReasonNotRSA      = "not_rsa"
)

// KeyImportError indicates the configured private key could not be decoded.
// Retrying with the same key cannot succeed.
type KeyImportError struct {
	Reason string
	Err    error
}

func (e *KeyImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import private key (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("import private key (%s)", e.Reason)
}

func (e *KeyImportError) Unwrap() error { return e.Err }

// SigningError indicates the RS256 signing operation itself failed.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign assertion: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }
