package middleware

import (
	"context"
	"net/http"

	"elogbook-sso/internal/account"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AccountIDKey is the gin context key holding the signed-in account id.
const AccountIDKey = "accountID"

// GinRequireAuth adapts the net/http AuthMiddleware to Gin.
// Auth decisions stay session-based and provider-agnostic.
func GinRequireAuth(auth *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Bridge handler to allow net/http middleware execution
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			if id, ok := AccountIDFromContext(r.Context()); ok {
				c.Set(AccountIDKey, id)
			}
			c.Next()
		})

		auth.RequireAuth(next).ServeHTTP(c.Writer, c.Request)

		// If auth middleware already handled the response, stop Gin chain
		if c.Writer.Written() {
			c.Abort()
		}
	}
}

// GinOptionalAuth attaches the account id when a valid session exists and
// lets anonymous requests through.
func GinOptionalAuth(auth *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := auth.Authenticate(c.Request); ok {
			c.Request = c.Request.WithContext(WithAccountID(c.Request.Context(), sess.AccountID))
			c.Set(AccountIDKey, sess.AccountID)
		}
		c.Next()
	}
}

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// RequireRole re-reads the account on every request and rejects anyone whose
// current role is not listed. Must run after GinRequireAuth.
func RequireRole(accounts AccountReader, roles ...account.Role) gin.HandlerFunc {
	allowed := make(map[account.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetString(AccountIDKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		a, err := accounts.GetByID(c.Request.Context(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if a == nil || a.IsDeleted() || !allowed[a.Role] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Next()
	}
}
