package handler

import (
	"errors"
	"net/http"
	"time"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/auth/destination"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/middleware"
	"elogbook-sso/internal/session"

	"github.com/gin-gonic/gin"
)

func (h *Handler) callback(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("provider")
	fields := map[string]any{
		"component": "handler",
		"phase":     "callback",
		"provider":  name,
	}

	p, err := h.providers.Get(name)
	if err != nil {
		h.fail(c, http.StatusNotFound, errUnknownProvider)
		return
	}

	payload, err := h.states.Consume(ctx, c.Writer, c.Request, c.Query("state"))
	if err == nil && payload.Provider != name {
		err = auth.ErrStateNotFoundOrExpired
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.Warn("login state rejected", fields)
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	// The flag went away with the state, so only this response is bridged.
	if payload.Popup {
		middleware.ArmPopup(c)
	}

	// Provider-side failure, common when a user abandons registration.
	// Start a fresh flow rather than treating it as an error page.
	if errParam := c.Query("error"); errParam != "" {
		fields["error"] = errParam
		fields["desc"] = c.Query("error_description")
		logger.Warn("provider returned error", fields)
		c.Redirect(http.StatusFound, "/login")
		return
	}

	code := c.Query("code")
	if code == "" {
		logger.Error("callback missing code and error", fields)
		h.fail(c, http.StatusBadRequest, errMissingCode)
		return
	}

	fields["phase"] = "exchange"
	identity, err := p.ExchangeCode(ctx, code, payload.CodeVerifier)
	if err != nil {
		fields["error"] = err.Error()
		logger.Warn("code exchange failed", fields)
		h.fail(c, http.StatusUnauthorized, errExchangeFailed)
		return
	}

	fields["phase"] = "resolve"
	res, err := h.resolver.Resolve(ctx, identity)
	if errors.Is(err, auth.ErrMissingIdentityEmail) {
		logger.Warn("identity has no email", fields)
		c.Redirect(http.StatusFound, destination.WelcomePath+"?reason=missing_email")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("identity resolution failed", fields)
		h.fail(c, http.StatusInternalServerError, err)
		return
	}

	accountID := res.Account.ID.String()
	fields["account_id"] = accountID
	fields["created"] = res.Created

	// No session until an administrator approves the account.
	if res.PendingApproval {
		logger.Info("login deferred pending approval", fields)
		c.Redirect(http.StatusFound, destination.WelcomePath)
		return
	}

	fields["phase"] = "session"
	sessionID, err := h.establishSession(c, accountID)
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("session creation failed", fields)
		h.fail(c, http.StatusInternalServerError, auth.ErrSessionNotEstablished)
		return
	}

	fields["phase"] = "route"
	target, err := h.router.Destination(ctx, accountID, payload.Next, c.Request.Host, requestScheme(c.Request))
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("destination lookup failed", fields)
		h.dropSession(c, sessionID, fields)
		h.fail(c, http.StatusInternalServerError, auth.ErrSessionNotEstablished)
		return
	}

	fields["popup"] = payload.Popup
	logger.Info("login succeeded", fields)

	c.Redirect(http.StatusFound, target)
}

func (h *Handler) establishSession(c *gin.Context, accountID string) (string, error) {
	sessionID, err := session.GenerateID()
	if err != nil {
		return "", err
	}

	now := time.Now()
	expiresAt := now.Add(h.sessionTTL)

	if err := h.sessions.Create(c.Request.Context(), session.Session{
		SessionID: sessionID,
		AccountID: accountID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", err
	}

	session.SetCookie(c.Writer, sessionID, expiresAt, h.cookie)
	return sessionID, nil
}

// dropSession undoes establishSession when the login cannot complete.
func (h *Handler) dropSession(c *gin.Context, sessionID string, fields map[string]any) {
	if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
		fields["cleanup_error"] = err.Error()
		logger.Error("failed to delete abandoned session", fields)
	}
	session.ClearCookie(c.Writer, h.cookie)
}
