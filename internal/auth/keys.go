package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"

	"github.com/go-faster/errors"
)

// ParsePrivateKey decodes a PEM-encoded RSA private key.
//
// PKCS#8 ("PRIVATE KEY") is what Google issues for service accounts; PKCS#1
// ("RSA PRIVATE KEY") is accepted as well. Escaped "\n" sequences, as produced
// when a key is pasted into a single-line environment variable, are restored
// before decoding.
func ParsePrivateKey(pemText string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(pemText, `\n`, "\n")

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, &KeyImportError{Reason: ReasonInvalidPEM, Err: errors.New("no PEM block found")}
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if rsaKey, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes); pkcs1Err == nil {
			return rsaKey, nil
		}
		return nil, &KeyImportError{Reason: ReasonParseFailed, Err: err}
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, &KeyImportError{Reason: ReasonNotRSA, Err: errors.Errorf("unexpected key type %T", key)}
	}
	return rsaKey, nil
}
