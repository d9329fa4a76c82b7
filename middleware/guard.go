package middleware

import (
	"context"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*goGuard.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goGuard.Claims)
	return claims, ok
}

// WithRequestBinding attaches the client IP and user agent of r to its
// context.
func WithRequestBinding(r *http.Request) context.Context {
	ctx := r.Context()
	if goGuard.ClientIPFromContext(ctx) == "" {
		ctx = goGuard.WithClientIP(ctx, ClientIP(r))
	}
	if goGuard.UserAgentFromContext(ctx) == "" {
		ctx = goGuard.WithUserAgent(ctx, r.UserAgent())
	}
	return ctx
}

// Guard requires a bearer access token bound to the request's IP and user
// agent. Verified claims are stored in the request context.
func Guard(engine *goGuard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, goGuard.ErrEngineNotReady)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, goGuard.ErrTokenInvalid)
				return
			}

			ctx := WithRequestBinding(r)
			claims, err := engine.VerifyToken(
				ctx,
				token,
				goGuard.ClientIPFromContext(ctx),
				goGuard.UserAgentFromContext(ctx),
			)
			if err != nil {
				WriteError(w, err)
				return
			}
			if claims.TokenType != goGuard.TokenTypeAccess {
				WriteError(w, goGuard.ErrRefreshTokenNotAllowed)
				return
			}

			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
