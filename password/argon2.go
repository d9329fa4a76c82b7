package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// DefaultMaxPasswordBytes caps password input when Config.MaxPasswordBytes
// is zero.
const DefaultMaxPasswordBytes = 1024

const (
	argonID        = "argon2id"
	minMemoryKB    = 8 * 1024
	minSaltBytes   = 16
	minKeyBytes    = 16
	minNewPassword = 10
)

var (
	// ErrMalformedHash is returned for hashes that are not valid argon2id PHC strings.
	ErrMalformedHash = errors.New("malformed argon2id hash")
	// ErrPasswordLength is returned for passwords outside the accepted byte range.
	ErrPasswordLength = errors.New("password length out of range")
)

// Config holds Argon2id cost parameters for new hashes.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// Argon2 hashes and verifies PHC-encoded argon2id passwords.
type Argon2 struct {
	cost     phcParams
	saltLen  uint32
	keyLen   uint32
	maxBytes int
}

// phcParams is the m,t,p triple of a PHC string.
type phcParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

type phcHash struct {
	phcParams
	salt []byte
	key  []byte
}

func (h phcHash) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argonID, argon2.Version, h.memory, h.time, h.parallelism,
		enc.EncodeToString(h.salt), enc.EncodeToString(h.key))
}

func (h phcHash) derive(password string) []byte {
	return argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))
}

// NewArgon2 validates cfg against the minimum costs.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < 1:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltBytes:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltBytes)
	case cfg.KeyLength < minKeyBytes:
		return nil, fmt.Errorf("password key length must be >= %d", minKeyBytes)
	case cfg.MaxPasswordBytes < 0:
		return nil, errors.New("password max bytes must not be negative")
	}

	maxBytes := cfg.MaxPasswordBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{
		cost:     phcParams{memory: cfg.Memory, time: cfg.Time, parallelism: cfg.Parallelism},
		saltLen:  cfg.SaltLength,
		keyLen:   cfg.KeyLength,
		maxBytes: maxBytes,
	}, nil
}

// Hash returns the PHC encoding of password with a fresh salt. Passwords
// are hashed byte for byte without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if len(password) < minNewPassword || len(password) > a.maxBytes {
		return "", ErrPasswordLength
	}

	h := phcHash{phcParams: a.cost, salt: make([]byte, a.saltLen), key: make([]byte, a.keyLen)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("argon2 salt: %w", err)
	}
	h.key = h.derive(password)
	return h.String(), nil
}

// Verify reports whether password matches encodedHash, using the
// parameters stored in the hash.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > a.maxBytes {
		return false, ErrPasswordLength
	}
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.derive(password), h.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was made with weaker costs or a
// different key length than the current ones.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := h.memory < a.cost.memory || h.time < a.cost.time || h.parallelism < a.cost.parallelism
	return weaker || uint32(len(h.key)) != a.keyLen, nil
}

func parsePHC(encoded string) (phcHash, error) {
	var h phcHash

	// "", id, version, params, salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argonID {
		return h, ErrMalformedHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return h, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return h, err
	}
	h.phcParams = params

	if h.salt, err = decodeSegment(parts[4]); err != nil || len(h.salt) < minSaltBytes {
		return h, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if h.key, err = decodeSegment(parts[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return h, nil
}

// decodeSegment accepts both padded and unpadded base64.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func parseParams(segment string) (phcParams, error) {
	var p phcParams
	seen := map[string]bool{}

	for _, pair := range strings.Split(segment, ",") {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || seen[key] {
			return p, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		seen[key] = true

		bits := 32
		if key == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return p, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}

		switch key {
		case "m":
			if v < minMemoryKB {
				return p, fmt.Errorf("%w: memory below %d KB", ErrMalformedHash, minMemoryKB)
			}
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			p.parallelism = uint8(v)
		default:
			return p, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, key)
		}
	}

	if len(seen) != 3 || p.time == 0 || p.parallelism == 0 {
		return p, fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	return p, nil
}
