package middleware

import (
	"net"
	"net/http"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// IdentityFunc extracts the rate limit identity of a request.
type IdentityFunc func(*http.Request) string

// ClientIP returns the host part of r.RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// Admission rejects requests whose identity is under an active penalty on
// the request path, and publishes a request event for admitted ones. The
// client IP and user agent are attached to the request context.
func Admission(engine *goGuard.Engine, identity IdentityFunc) func(http.Handler) http.Handler {
	if identity == nil {
		identity = ClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, goGuard.ErrEngineNotReady)
				return
			}

			ctx := WithRequestBinding(r)
			if err := engine.Admit(ctx, identity(r), r.URL.Path); err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
