package escalation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the HMAC-SHA256 of body under secret, hex-encoded. Used
// to populate a message's `_signature` field. No suitable pack library
// covers message-authentication codes; crypto/hmac is the standard
// mechanism for this and every example repo that signs payloads
// (webhooks, agent registration) reaches for it directly rather than a
// third-party wrapper.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid hex-encoded HMAC-SHA256
// of body under secret, using constant-time comparison.
func Verify(secret, body []byte, signature string) bool {
	want, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	got := mac.Sum(nil)
	return hmac.Equal(want, got)
}
