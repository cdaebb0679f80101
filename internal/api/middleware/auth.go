package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxOperator  = "operator"
	CtxRequestID = "requestID"
)

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header and
// stores the operator name in the gin context. When authSvc has no secret
// configured every request passes through anonymously.
func JWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authSvc == nil || !authSvc.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, domain.ErrUnauthorized)
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortUnauthorized(c, domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxOperator, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    "ERR_UNAUTHORIZED",
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper: extract operator from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetOperator returns the authenticated operator name, or "" when auth is
// disabled or the middleware was not applied.
func GetOperator(c *gin.Context) string {
	v, _ := c.Get(CtxOperator)
	s, _ := v.(string)
	return s
}
