package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/auth/destination"
	"elogbook-sso/internal/auth/pending"
	"elogbook-sso/internal/auth/provider"
	"elogbook-sso/internal/auth/redirect"
	"elogbook-sso/internal/auth/resolver"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/middleware"
	"elogbook-sso/internal/session"
	"elogbook-sso/internal/web"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Providers *provider.Registry
	States    *pending.Store
	Resolver  resolver.Resolver
	Sessions  session.Store
	Router    *destination.Router
	Validator *redirect.Validator
	Auth      *middleware.AuthMiddleware

	Cookie     session.CookieOptions
	SessionTTL time.Duration
}

type Handler struct {
	providers *provider.Registry
	states    *pending.Store
	resolver  resolver.Resolver
	sessions  session.Store
	router    *destination.Router
	validator *redirect.Validator
	auth      *middleware.AuthMiddleware

	cookie     session.CookieOptions
	sessionTTL time.Duration
}

func NewHandler(d Deps) *Handler {
	if d.SessionTTL <= 0 {
		d.SessionTTL = 24 * time.Hour
	}
	return &Handler{
		providers:  d.Providers,
		states:     d.States,
		resolver:   d.Resolver,
		sessions:   d.Sessions,
		router:     d.Router,
		validator:  d.Validator,
		auth:       d.Auth,
		cookie:     d.Cookie,
		sessionTTL: d.SessionTTL,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/login", h.loginPage)
	r.GET("/login/:provider/start", h.start)
	r.GET("/login/:provider/state", h.state)
	r.GET("/login/:provider/callback",
		middleware.PopupBridge(),
		middleware.StateRestore(h.states, h.fail),
		h.callback,
	)
	r.GET("/post-login", middleware.GinOptionalAuth(h.auth), h.postLogin)
	r.GET(destination.WelcomePath, h.welcome)
	r.POST("/auth/logout", h.Logout)

	for _, route := range r.Routes() {
		logger.Debug("route registered", map[string]any{
			"component": "handler",
			"method":    route.Method,
			"path":      route.Path,
		})
	}
}

// requestScheme honours a TLS-terminating proxy.
func requestScheme(r *http.Request) string {
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrStateNotFoundOrExpired):
		return "Your sign-in attempt expired or was already used. Please start again."
	case errors.Is(err, auth.ErrSessionNotEstablished):
		return "We could not establish your session. Please sign in again."
	case errors.Is(err, errUnknownProvider):
		return "This sign-in method is not available."
	case errors.Is(err, errExchangeFailed):
		return "The sign-in provider could not verify your identity."
	default:
		return "Something went wrong while signing you in."
	}
}

var (
	errUnknownProvider = errors.New("unknown oauth provider")
	errExchangeFailed  = errors.New("code exchange failed")
	errMissingCode     = errors.New("callback missing code")
)

// fail renders the fixed failure page. Raw error text never reaches the page.
func (h *Handler) fail(c *gin.Context, status int, err error) {
	c.HTML(status, web.FailurePage, gin.H{"Message": failureMessage(err)})
}

func (h *Handler) welcome(c *gin.Context) {
	c.HTML(http.StatusOK, web.WelcomePage, gin.H{
		"MissingEmail": c.Query("reason") == "missing_email",
	})
}

func (h *Handler) Logout(c *gin.Context) {
	if sessionID, ok := session.ReadCookie(c.Request); ok {
		// best-effort; the cookie is cleared regardless
		if err := h.sessions.Delete(c.Request.Context(), sessionID); err != nil {
			logger.Warn("session delete on logout failed", map[string]any{
				"component": "handler",
				"error":     err.Error(),
			})
		}
		logger.Info("logout", map[string]any{
			"component": "handler",
			"ip":        c.ClientIP(),
		})
	}

	session.ClearCookie(c.Writer, h.cookie)

	c.Status(http.StatusNoContent)
}
