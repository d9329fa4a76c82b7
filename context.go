package goGuard

import "context"

// requestKey indexes the request attributes carried on a context.
type requestKey uint8

const (
	clientIPKey requestKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP address to ctx. Login binds issued
// tokens to it; Logout and CurrentActiveUser verify against it; audit
// events record it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// ClientIPFromContext returns the IP attached with WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	return requestValue(ctx, clientIPKey)
}

// UserAgentFromContext returns the user agent attached with WithUserAgent.
func UserAgentFromContext(ctx context.Context) string {
	return requestValue(ctx, userAgentKey)
}

func requestValue(ctx context.Context, key requestKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
