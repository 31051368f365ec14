// Package signature authenticates webhook bodies signed by the chat platform.
//
// The platform signs the raw request body with HMAC-SHA256 keyed by the channel
// secret and sends the base64 digest in the X-Line-Signature header. Verification
// must run on the exact bytes received, before the body is decoded.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// Header is the request header carrying the body signature.
const Header = "X-Line-Signature"

var (
	ErrMissingSignature = errors.New("signature: missing signature header")
	ErrInvalidSignature = errors.New("signature: invalid signature")
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks header against the HMAC of body. The comparison is constant time.
func (v *Verifier) Verify(body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}

	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return ErrInvalidSignature
	}

	if !hmac.Equal(got, mac(body, v.secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value the platform would send for body.
func Sign(body []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(mac(body, []byte(secret)))
}

func mac(body, secret []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}
