package creem

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/billing"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "creem-signature"

// Sign returns the lowercase hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of body under secret.
// It fails closed: an empty secret or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, body)
	if len(expected) != len(signature) {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyRequest checks the signature header of r against body. Every failure
// wraps billing.ErrInvalidWebhookSignature.
func VerifyRequest(r *http.Request, secret string, body []byte) error {
	signature := r.Header.Get(SignatureHeader)
	switch {
	case secret == "":
		return fmt.Errorf("%w: webhook secret not configured", billing.ErrInvalidWebhookSignature)
	case signature == "":
		return fmt.Errorf("%w: missing %s header", billing.ErrInvalidWebhookSignature, SignatureHeader)
	case !VerifySignature(secret, body, signature):
		return fmt.Errorf("%w: signature mismatch", billing.ErrInvalidWebhookSignature)
	}
	return nil
}
