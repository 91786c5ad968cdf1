package middleware

import (
	"context"
	"net/http"
	"time"

	"elogbook-sso/internal/session"
)

// unexported, collision-proof context key
type accountIDContextKeyType struct{}

var accountIDKey = accountIDContextKeyType{}

// AccountIDFromContext extracts the authenticated account ID from context.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

type AuthMiddleware struct {
	Store session.Store
}

func NewAuthMiddleware(store session.Store) *AuthMiddleware {
	return &AuthMiddleware{Store: store}
}

// Authenticate resolves the request's session. Expired sessions are deleted.
func (a *AuthMiddleware) Authenticate(r *http.Request) (*session.Session, bool) {
	sessionID, ok := session.ReadCookie(r)
	if !ok {
		return nil, false
	}

	sess, err := a.Store.Get(r.Context(), sessionID)
	if err != nil || sess == nil {
		return nil, false
	}

	if time.Now().After(sess.ExpiresAt) {
		_ = a.Store.Delete(r.Context(), sessionID)
		return nil, false
	}

	return sess, true
}

func (a *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := a.Authenticate(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), sess.AccountID)))
	})
}
