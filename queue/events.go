package queue

import (
	"errors"
	"strings"
)

// ErrMalformedEvent indicates an event body that cannot be decoded.
var ErrMalformedEvent = errors.New("malformed event")

// EncodeRateLimitEvent builds the "identity,route" body of a request event.
func EncodeRateLimitEvent(identity, route string) []byte {
	return []byte(identity + "," + route)
}

// DecodeRateLimitEvent splits a request event body on its first comma.
// Identities never contain commas; routes may.
func DecodeRateLimitEvent(body []byte) (identity, route string, err error) {
	identity, route, ok := strings.Cut(string(body), ",")
	if !ok || identity == "" || route == "" {
		return "", "", ErrMalformedEvent
	}
	return identity, route, nil
}

// EncodeLoginAttemptEvent builds the body of a failed-login event.
func EncodeLoginAttemptEvent(userID string) []byte {
	return []byte(userID)
}

// DecodeLoginAttemptEvent returns the user id carried by a failed-login event.
func DecodeLoginAttemptEvent(body []byte) (string, error) {
	userID := strings.TrimSpace(string(body))
	if userID == "" {
		return "", ErrMalformedEvent
	}
	return userID, nil
}
