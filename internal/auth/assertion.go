package auth

import (
	"crypto/rsa"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SpreadsheetsScope grants read/write access to Google Sheets.
	SpreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"
	// TokenAudience is the audience Google expects in service account assertions.
	TokenAudience = "https://oauth2.googleapis.com/token"
	// AssertionLifetime is how long a signed assertion stays valid.
	AssertionLifetime = 3600 * time.Second
)

// Identity is a Google service account as supplied by configuration.
type Identity struct {
	ClientEmail   string
	PrivateKeyPEM string
}

// Validate checks that both identity fields are present.
func (id Identity) Validate() error {
	if strings.TrimSpace(id.ClientEmail) == "" {
		return errors.Wrap(ErrConfiguration, "client email is empty")
	}
	if strings.TrimSpace(id.PrivateKeyPEM) == "" {
		return errors.Wrap(ErrConfiguration, "private key is empty")
	}
	return nil
}

// AssertionClaims is the claim set of a JWT-bearer grant assertion.
// Field order matches the encoded JSON.
type AssertionClaims struct {
	Issuer    string `json:"iss"`
	Scope     string `json:"scope"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

func (c AssertionClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c AssertionClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c AssertionClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c AssertionClaims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c AssertionClaims) GetSubject() (string, error)             { return "", nil }

func (c AssertionClaims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// NewAssertionClaims builds the claim set for the given issuer and issue time.
func NewAssertionClaims(clientEmail string, issuedAt int64) AssertionClaims {
	return AssertionClaims{
		Issuer:    clientEmail,
		Scope:     SpreadsheetsScope,
		Audience:  TokenAudience,
		ExpiresAt: issuedAt + int64(AssertionLifetime/time.Second),
		IssuedAt:  issuedAt,
	}
}

// Signer produces RS256 assertions for a single service account.
// The private key is decoded once, at construction.
type Signer struct {
	clientEmail string
	key         *rsa.PrivateKey
}

// NewSigner validates the identity and decodes its private key.
func NewSigner(id Identity) (*Signer, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	key, err := ParsePrivateKey(id.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{clientEmail: id.ClientEmail, key: key}, nil
}

// Sign returns a compact "<header>.<claims>.<signature>" assertion issued at
// issuedAt (unix seconds). Segments are unpadded base64url.
func (s *Signer) Sign(issuedAt int64) (string, error) {
	return signClaims(NewAssertionClaims(s.clientEmail, issuedAt), s.key)
}

// SignAssertion is a one-shot helper around NewSigner and Sign.
func SignAssertion(id Identity, issuedAt int64) (string, error) {
	s, err := NewSigner(id)
	if err != nil {
		return "", err
	}
	return s.Sign(issuedAt)
}

func signClaims(claims AssertionClaims, key any) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", &SigningError{Err: err}
	}
	return signed, nil
}
