package tokens

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/MrEthical07/goGuard/jwt"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// TypeAccess is the token_type of short-lived access tokens.
	TypeAccess = "access"
	// TypeRefresh is the token_type of long-lived refresh tokens.
	TypeRefresh = "refresh"
)

// Config holds token lifetimes.
type Config struct {
	AccessTTL     time.Duration
	RememberMeTTL time.Duration
	RefreshTTL    time.Duration
}

// IssueRequest describes a token to mint.
type IssueRequest struct {
	UserID     string
	Type       string
	IP         string
	UserAgent  string
	RememberMe bool
}

// Manager issues, verifies and revokes registry-backed tokens.
type Manager struct {
	signer   *jwt.Manager
	registry *Registry
	config   Config
	now      func() time.Time
}

// NewManager creates a token Manager.
func NewManager(signer *jwt.Manager, registry *Registry, cfg Config) *Manager {
	return &Manager{
		signer:   signer,
		registry: registry,
		config:   cfg,
		now:      time.Now,
	}
}

// Lifetime returns the validity period of a token of the given type.
func (m *Manager) Lifetime(tokenType string, rememberMe bool) (time.Duration, error) {
	switch tokenType {
	case TypeAccess:
		if rememberMe {
			return m.config.RememberMeTTL, nil
		}
		return m.config.AccessTTL, nil
	case TypeRefresh:
		return m.config.RefreshTTL, nil
	default:
		return 0, ErrInvalidType
	}
}

// Issue signs a new token for req and registers its id. The token is only
// returned once registration succeeded.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (string, *jwt.Claims, error) {
	ttl, err := m.Lifetime(req.Type, req.RememberMe)
	if err != nil {
		return "", nil, err
	}

	now := m.now()
	claims := jwt.Claims{
		UserID:    req.UserID,
		TokenType: req.Type,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  gjwt.NewNumericDate(now),
			ExpiresAt: gjwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := m.signer.Sign(claims)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	entry := &Entry{
		Status:    StatusActive,
		UserID:    req.UserID,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := m.registry.Register(ctx, claims.ID, req.Type, entry, ttl); err != nil {
		return "", nil, err
	}

	return token, &claims, nil
}

// Verify checks the signature, the registry and the IP and user-agent
// binding of token, in that order.
func (m *Manager) Verify(ctx context.Context, token, ip, userAgent string) (*jwt.Claims, error) {
	claims, err := m.signer.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if claims.TokenType != TypeAccess && claims.TokenType != TypeRefresh {
		return nil, ErrInvalid
	}

	entry, ok, err := m.registry.Lookup(ctx, claims.ID, claims.TokenType)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRevoked
	}

	if !equal(claims.IP, ip) || !equal(entry.IP, ip) ||
		!equal(claims.UserAgent, userAgent) || !equal(entry.UserAgent, userAgent) {
		return nil, ErrBindingMismatch
	}
	if entry.UserID != claims.UserID {
		return nil, ErrInvalid
	}

	return claims, nil
}

// Revoke removes the registry entry of jti.
func (m *Manager) Revoke(ctx context.Context, jti, tokenType string) error {
	if tokenType != TypeAccess && tokenType != TypeRefresh {
		return ErrInvalidType
	}
	return m.registry.Revoke(ctx, jti, tokenType)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
