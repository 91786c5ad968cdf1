package middleware

import (
	"net/http"

	"elogbook-sso/internal/auth/pending"
	"elogbook-sso/internal/logger"

	"github.com/gin-gonic/gin"
)

// FailureFunc renders a terminal error page for the sign-in flow.
type FailureFunc func(c *gin.Context, status int, err error)

// StateRestore repairs a callback whose flow cookie lost the state: the
// durable copy is spliced into the request context. Without a durable copy
// the request stops here.
func StateRestore(store *pending.Store, fail FailureFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		stateID := c.Query("state")
		if stateID == "" {
			c.Next()
			return
		}

		flow := store.Flow(c.Request)
		if _, ok := flow.States[stateID]; ok {
			c.Next()
			return
		}

		rec, err := store.Restore(c.Request.Context(), stateID)
		if err != nil {
			logger.Warn("login state missing from cookie and durable store", map[string]any{
				"component": "state_restore",
				"path":      c.FullPath(),
				"error":     err.Error(),
			})
			fail(c, http.StatusBadRequest, err)
			c.Abort()
			return
		}

		flow.States[stateID] = pending.Entry{
			Payload:   rec.Payload,
			CreatedAt: rec.CreatedAt,
			Durable:   true,
		}
		c.Request = c.Request.WithContext(pending.WithFlow(c.Request.Context(), flow))

		logger.Info("login state restored from durable store", map[string]any{
			"component": "state_restore",
			"provider":  rec.Payload.Provider,
		})

		c.Next()
	}
}
