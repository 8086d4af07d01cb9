package creem

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mihaimyh/goentitle/pkg/billing"
)

const testSecret = "whsec_test"

func TestSignVerifyRoundTrip(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{"eventType":"checkout.completed"}`),
		[]byte(""),
		[]byte("not json at all"),
		{0x00, 0xff, 0x10},
	}
	for _, body := range bodies {
		if !VerifySignature(testSecret, body, Sign(testSecret, body)) {
			t.Errorf("round trip failed for %q", body)
		}
	}
}

func TestVerifySignature_Rejects(t *testing.T) {
	body := []byte(`{"eventType":"subscription.active","object":{"id":"sub_1"}}`)
	good := Sign(testSecret, body)

	flipped := []byte(good)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] ^= 0x01

	tests := []struct {
		name   string
		secret string
		body   []byte
		sig    string
	}{
		{"wrong secret", "other", body, good},
		{"empty secret", "", body, Sign("", body)},
		{"missing header", testSecret, body, ""},
		{"flipped signature byte", testSecret, body, string(flipped)},
		{"tampered body", testSecret, tampered, good},
		{"truncated signature", testSecret, body, good[:len(good)-1]},
		{"uppercase hex", testSecret, body, upper(good)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if VerifySignature(tt.secret, tt.body, tt.sig) {
				t.Error("expected verification to fail")
			}
		})
	}
}

func upper(s string) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
			changed = true
		}
	}
	if !changed {
		// all digits; force a mismatch
		b[0] = 'X'
	}
	return string(b)
}

func TestVerifyRequest(t *testing.T) {
	body := []byte(`{"eventType":"subscription.paused","object":{"id":"sub_1"}}`)

	tests := []struct {
		name      string
		secret    string
		signature string
		wantErr   bool
	}{
		{"valid", testSecret, Sign(testSecret, body), false},
		{"no secret", "", Sign(testSecret, body), true},
		{"missing header", testSecret, "", true},
		{"wrong secret", testSecret, Sign("other", body), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/creem/webhook", strings.NewReader(string(body)))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			err := VerifyRequest(req, tt.secret, body)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, billing.ErrInvalidWebhookSignature) {
				t.Errorf("err = %v, want ErrInvalidWebhookSignature", err)
			}
		})
	}
}
