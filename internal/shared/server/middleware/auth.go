package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"contract-backend/internal/shared/auth"
	"contract-backend/internal/shared/server/respond"
)

const (
	accountIDKey    = "accountId"
	accountEmailKey = "accountEmail"
)

// Verifier validates bearer tokens.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Auth requires a valid Bearer token except for the given public paths.
// Public entries ending in "/" match as prefixes.
func Auth(verifier Verifier, public ...string) gin.HandlerFunc {
	exact := make(map[string]struct{}, len(public))
	var prefixes []string
	for _, p := range public {
		if strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
			continue
		}
		exact[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		path := c.Request.URL.Path
		if _, ok := exact[path]; ok {
			c.Next()
			return
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				c.Next()
				return
			}
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(accountIDKey, claims.AccountID)
		if claims.Email != "" {
			c.Set(accountEmailKey, claims.Email)
		}
		c.Next()
	}
}

// AccountIDFromContext fetches the account ID set by the auth middleware.
func AccountIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(accountIDKey)
}

// AccountEmailFromContext fetches the account email set by the auth middleware.
func AccountEmailFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(accountEmailKey)
}
