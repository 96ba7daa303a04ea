package eventsub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
)

// EventSub webhook headers as sent by Twitch
const (
	HeaderMessageID        = "Twitch-Eventsub-Message-Id"
	HeaderMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	HeaderMessageSignature = "Twitch-Eventsub-Message-Signature"
	HeaderMessageType      = "Twitch-Eventsub-Message-Type"
)

const signaturePrefix = "sha256="

var (
	// ErrMissingSignatureHeaders indicates the request lacks one of the
	// required message headers
	ErrMissingSignatureHeaders = errors.New("missing signature headers")

	// ErrSignatureMismatch indicates the provided signature does not match
	// the computed one. Deliberately carries no detail about which input
	// disagreed.
	ErrSignatureMismatch = errors.New("signature mismatch")
)

// VerifySignature checks that a webhook request was signed by the provider.
// The signed message is message id || timestamp || raw body, in that byte
// order, keyed with the shared webhook secret. It must be called on the raw
// body before any JSON parsing. Pure function: no side effects, no logging.
func VerifySignature(headers http.Header, rawBody []byte, secret string) error {
	messageID := headers.Get(HeaderMessageID)
	timestamp := headers.Get(HeaderMessageTimestamp)
	signature := headers.Get(HeaderMessageSignature)

	if messageID == "" || timestamp == "" || signature == "" {
		return ErrMissingSignatureHeaders
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(rawBody)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	if len(signature) != len(expected) {
		return ErrSignatureMismatch
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureMismatch
	}

	return nil
}

// ComputeSignature returns the signature header value for the given inputs
func ComputeSignature(messageID, timestamp string, rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(rawBody)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
