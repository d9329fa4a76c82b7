package password

import (
	"errors"
	"strings"
)

// ErrUnknownScheme is returned for hashes no configured verifier recognizes.
var ErrUnknownScheme = errors.New("unknown password hash scheme")

// Multi verifies hashes of either scheme, choosing by the hash prefix.
// Stores migrated from a bcrypt system keep working while new hashes use
// argon2id.
type Multi struct {
	argon  *Argon2
	bcrypt *Bcrypt
}

// NewMulti returns a verifier dispatching to argon or bc. Either may be nil.
func NewMulti(argon *Argon2, bc *Bcrypt) *Multi {
	return &Multi{argon: argon, bcrypt: bc}
}

// Verify reports whether password matches encodedHash.
func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+argonID+"$"):
		if m.argon == nil {
			return false, ErrUnknownScheme
		}
		return m.argon.Verify(password, encodedHash)
	case isBcrypt(encodedHash):
		if m.bcrypt == nil {
			return false, ErrUnknownScheme
		}
		return m.bcrypt.Verify(password, encodedHash)
	default:
		return false, ErrUnknownScheme
	}
}

// Hash hashes with argon2id when configured, bcrypt otherwise.
func (m *Multi) Hash(password string) (string, error) {
	if m.argon != nil {
		return m.argon.Hash(password)
	}
	if m.bcrypt != nil {
		return m.bcrypt.Hash(password)
	}
	return "", ErrUnknownScheme
}

func isBcrypt(hash string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(hash, prefix) {
			return true
		}
	}
	return false
}
