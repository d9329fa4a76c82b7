package tokens

import "errors"

var (
	// ErrInvalid indicates a malformed, badly signed or expired token.
	ErrInvalid = errors.New("invalid token")
	// ErrRevoked indicates the token id is not in the registry.
	ErrRevoked = errors.New("token revoked")
	// ErrBindingMismatch indicates the request IP or user agent differs from the token's.
	ErrBindingMismatch = errors.New("token binding mismatch")
	// ErrInvalidType indicates an unknown token type.
	ErrInvalidType = errors.New("invalid token type")
	// ErrDuplicateID indicates a token id collision in the registry.
	ErrDuplicateID = errors.New("token id already registered")
	// ErrRedisUnavailable indicates the registry could not be reached.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
