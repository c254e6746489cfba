package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// APIKeyHeader is accepted as an alternative to a bearer token.
const APIKeyHeader = "X-API-Key"

// Option configures a Server.
type Option func(*Server)

// WithToken requires every route except /healthz to present token, either
// as "Authorization: Bearer <token>" or in the X-API-Key header. An empty
// token leaves the routes open.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func (s *Server) requireToken() gin.HandlerFunc {
	want := []byte(s.token)
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			if auth := c.GetHeader("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
				got = strings.TrimSpace(auth[7:])
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			if m := s.host.Metrics(); m != nil {
				m.RecordRejected(c.Request.Context(), transportName, c.FullPath(), "unauthorized")
			}
			c.Header("WWW-Authenticate", `Bearer realm="langhost"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing or invalid token"}})
			return
		}
		c.Next()
	}
}

// WithRateLimit caps the request rate over all capability routes. A
// non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func (s *Server) limitRate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			if m := s.host.Metrics(); m != nil {
				m.RecordRejected(c.Request.Context(), transportName, c.FullPath(), "rate_limited")
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"message": "rate limit exceeded"}})
			return
		}
		c.Next()
	}
}
