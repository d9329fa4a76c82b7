package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWS algorithm used for guard tokens.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// Config holds signing keys and validation rules.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Manager signs and parses guard tokens. It only checks signatures and time
// claims; registry and binding checks belong to the caller.
type Manager struct {
	config Config
	method jwt.SigningMethod
	keys   keyring
}

// keyring holds the decoded signing key and the verify keys by kid. The ""
// entry is used for tokens without a kid when no key set is configured.
type keyring struct {
	sign   any
	verify map[string]any
	strict bool
}

// Claims is the payload of access and refresh tokens. The jti, iat and exp
// registered claims are carried by the embedded RegisteredClaims.
type Claims struct {
	UserID    string `json:"user_id"`
	TokenType string `json:"token_type"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	jwt.RegisteredClaims
}

// NewManager validates cfg, decodes its keys and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("leeway must be between 0 and 2m")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("MaxFutureIAT must be between 0 and 24h")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	var (
		method jwt.SigningMethod
		decode func([]byte) (any, error)
		keys   keyring
	)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a private key")
		}
		method = jwt.SigningMethodHS256
		decode = func(b []byte) (any, error) { return b, nil }
		keys.sign = cfg.PrivateKey
		cfg.PublicKey = cfg.PrivateKey
	case MethodEd25519:
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires a public key or verify key set")
		}
		method = jwt.SigningMethodEdDSA
		decode = func(b []byte) (any, error) { return parseEdPublicKey(b) }
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			keys.sign = priv
		}
	default:
		return nil, fmt.Errorf("unsupported signing method %q", cfg.SigningMethod)
	}

	keys.verify = make(map[string]any, len(cfg.VerifyKeys)+1)
	if len(cfg.VerifyKeys) > 0 {
		keys.strict = true
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key set contains an empty kid")
			}
			key, err := decode(raw)
			if err != nil {
				return nil, fmt.Errorf("verify key %q: %w", kid, err)
			}
			keys.verify[kid] = key
		}
		if cfg.KeyID != "" {
			if _, ok := keys.verify[cfg.KeyID]; !ok {
				return nil, errors.New("KeyID is not present in VerifyKeys")
			}
		}
	} else {
		key, err := decode(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		// A configured KeyID must match the token header.
		keys.strict = cfg.KeyID != ""
		keys.verify[cfg.KeyID] = key
	}

	return &Manager{config: cfg, method: method, keys: keys}, nil
}

// Sign fills issuer and audience from the configuration and returns the
// compact serialization of claims.
func (j *Manager) Sign(claims Claims) (string, error) {
	if j.keys.sign == nil {
		return "", errors.New("manager has no signing key")
	}
	if j.config.Issuer != "" {
		claims.Issuer = j.config.Issuer
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	token := jwt.NewWithClaims(j.method, claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}
	return token.SignedString(j.keys.sign)
}

// Parse verifies the signature and time claims of tokenStr and returns its
// claims. Tokens without a jti are rejected.
func (j *Manager) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := j.parser().ParseWithClaims(tokenStr, claims, j.lookupKey)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ID == "" {
		return nil, errors.New("token has no jti")
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(time.Now().Add(j.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	return claims, nil
}

func (j *Manager) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.config.Audience))
	}
	return jwt.NewParser(opts...)
}

func (j *Manager) lookupKey(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if !j.keys.strict {
		return j.keys.verify[""], nil
	}
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	key, ok := j.keys.verify[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 private key: %w", err)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("ed25519 private key: wrong key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("ed25519 public key: wrong key type")
	}
	return edKey, nil
}
