// Package ginguard adapts goGuard admission and token checks to gin.
package ginguard

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
)

// ClaimsKey is the gin context key holding verified claims.
const ClaimsKey = "goguard.claims"

// IdentityFunc extracts the rate limit identity of a request.
type IdentityFunc func(*gin.Context) string

// ClientIP uses gin's client IP resolution, which honours the engine's
// trusted proxies.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

func abort(c *gin.Context, err error) {
	status, detail := middleware.StatusFor(err)

	var rl *goGuard.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
	}

	c.AbortWithStatusJSON(status, middleware.ErrorResponse{Detail: detail})
}

func bind(c *gin.Context) {
	ctx := goGuard.WithClientIP(c.Request.Context(), c.ClientIP())
	ctx = goGuard.WithUserAgent(ctx, c.Request.UserAgent())
	c.Request = c.Request.WithContext(ctx)
}

// Admission rejects penalized identities on the matched route with 429 and
// publishes a request event for admitted ones.
func Admission(engine *goGuard.Engine, identity IdentityFunc) gin.HandlerFunc {
	if identity == nil {
		identity = ClientIP
	}

	return func(c *gin.Context) {
		if engine == nil {
			abort(c, goGuard.ErrEngineNotReady)
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		bind(c)
		if err := engine.Admit(c.Request.Context(), identity(c), route); err != nil {
			abort(c, err)
			return
		}

		c.Next()
	}
}

// Guard requires a bearer access token bound to the caller's IP and user
// agent.
func Guard(engine *goGuard.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			abort(c, goGuard.ErrEngineNotReady)
			return
		}

		token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, goGuard.ErrTokenInvalid)
			return
		}

		bind(c)
		claims, err := engine.VerifyToken(c.Request.Context(), token, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			abort(c, err)
			return
		}
		if claims.TokenType != goGuard.TokenTypeAccess {
			abort(c, goGuard.ErrRefreshTokenNotAllowed)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the claims stored by Guard.
func Claims(c *gin.Context) (*goGuard.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*goGuard.Claims)
	return claims, ok
}
