package escalation

import (
	"encoding/json"
	"fmt"
)

// InboundMessage is the generic envelope for every message the server
// sends, dispatched by Type. Messages carrying a non-empty Signature
// are HMAC-verified against the envelope's Body before dispatch.
type InboundMessage struct {
	Type      string          `json:"type"`
	Body      json.RawMessage `json:"body"`
	Signature string          `json:"_signature,omitempty"`
}

// VerifyInbound checks an inbound message's HMAC signature when hmacSecret
// is configured. If hmacSecret is empty, verification is skipped
// (HMAC disabled). If hmacSecret is set and the message has no
// signature, or the signature does not match, the message is rejected.
func VerifyInbound(hmacSecret string, msg InboundMessage) error {
	if hmacSecret == "" {
		return nil
	}
	if msg.Signature == "" {
		return fmt.Errorf("escalation: message type %q missing required _signature", msg.Type)
	}
	if !Verify([]byte(hmacSecret), msg.Body, msg.Signature) {
		return fmt.Errorf("escalation: message type %q failed HMAC verification", msg.Type)
	}
	return nil
}

// KeyRotation is the body of a key-rotation inbound message: the
// server issues a new HMAC secret, which the credential store adopts
// and acknowledges.
type KeyRotation struct {
	NewSecret string `json:"new_secret"`
	EffectiveAt string `json:"effective_at"`
}

// CredentialStore is the extensible credential store that key-rotation
// messages are handled against. Implementations decide how the new
// secret is persisted (e.g. written into Config and reloaded).
type CredentialStore interface {
	RotateHMACSecret(newSecret string) error
}
