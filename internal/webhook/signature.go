// Package webhook signs and delivers event envelopes to tenant endpoints,
// recording every attempt against a durable delivery record.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery"
	HeaderTimestamp  = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
)

// Sign returns the header value for body signed with secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in constant time. Receivers written in
// Go can use it directly.
func Verify(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
