package handler

import (
	"errors"
	"net/http"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/auth/destination"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/middleware"
	"elogbook-sso/internal/web"

	"github.com/gin-gonic/gin"
)

// postLogin routes a signed-in browser to its destination. Anonymous arrivals
// get a diagnosis of why the session is missing.
func (h *Handler) postLogin(c *gin.Context) {
	fields := map[string]any{
		"component": "handler",
		"phase":     "post_login",
	}

	accountID := c.GetString(middleware.AccountIDKey)
	if accountID == "" {
		d := h.router.Diagnose(c.Request.Referer(), c.Request.Host)
		fields["diagnosis"] = d.String()
		logger.Info("post-login without session", fields)

		if d == destination.DiagnosisNone {
			c.Redirect(http.StatusFound, "/login")
			return
		}
		c.HTML(http.StatusOK, web.DiagnosticPage, gin.H{"Diagnosis": d.String()})
		return
	}

	target, err := h.router.Destination(c.Request.Context(), accountID, c.Query("next"), c.Request.Host, requestScheme(c.Request))
	if errors.Is(err, auth.ErrSessionNotEstablished) {
		c.Redirect(http.StatusFound, "/login")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("destination lookup failed", fields)
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Redirect(http.StatusFound, target)
}
