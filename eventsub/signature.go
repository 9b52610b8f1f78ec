// Package eventsub receives Twitch EventSub webhook callbacks and reconciles
// subscriptions and announcement messages against the alert state.
package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const signaturePrefix = "sha256="

// ComputeSignature returns the expected Twitch-Eventsub-Message-Signature
// value: "sha256=" plus the hex HMAC-SHA256 of messageID+timestamp+body under
// the shared secret.
func ComputeSignature(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a callback signature in constant time.
func VerifySignature(secret, messageID, timestamp, signature string, body []byte) bool {
	expected := ComputeSignature(secret, messageID, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
