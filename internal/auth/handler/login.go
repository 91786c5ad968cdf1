package handler

import (
	"net/http"
	"net/url"

	"elogbook-sso/internal/auth/pending"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/utils"
	"elogbook-sso/internal/web"

	"github.com/gin-gonic/gin"
)

func (h *Handler) loginPage(c *gin.Context) {
	next := c.Query("next")

	links := make([]web.ProviderLink, 0)
	for _, p := range h.providers.List() {
		start := "/login/" + url.PathEscape(p.Name()) + "/start"
		if next != "" {
			start += "?" + url.Values{"next": {next}}.Encode()
		}
		links = append(links, web.ProviderLink{
			Name:        p.Name(),
			DisplayName: p.DisplayName(),
			StartURL:    start,
		})
	}

	c.HTML(http.StatusOK, web.LoginPage, gin.H{"Providers": links})
}

// begin creates the pending state and returns the provider authorize URL.
func (h *Handler) begin(c *gin.Context) (string, int, error) {
	name := c.Param("provider")

	p, err := h.providers.Get(name)
	if err != nil {
		return "", http.StatusNotFound, errUnknownProvider
	}

	// Drop an unsafe next now so it never lands in the state.
	next := c.Query("next")
	if next != "" {
		if _, ok := h.validator.Validate(next, c.Request.Host, requestScheme(c.Request)); !ok {
			next = ""
		}
	}

	verifier, err := utils.RandomToken(32)
	if err != nil {
		return "", http.StatusInternalServerError, err
	}

	stateID, err := h.states.Initiate(c.Request.Context(), c.Writer, c.Request, pending.Payload{
		Provider:     name,
		CodeVerifier: verifier,
		Next:         next,
		Popup:        c.Query("popup") == "1",
	})
	if err != nil {
		return "", http.StatusInternalServerError, err
	}

	logger.Info("login initiated", map[string]any{
		"component": "handler",
		"phase":     "initiate",
		"provider":  name,
		"popup":     c.Query("popup") == "1",
	})

	return p.AuthCodeURL(stateID, utils.PKCEChallenge(verifier)), http.StatusFound, nil
}

func (h *Handler) start(c *gin.Context) {
	authURL, status, err := h.begin(c)
	if err != nil {
		logger.Error("login initiation failed", map[string]any{
			"component": "handler",
			"phase":     "initiate",
			"provider":  c.Param("provider"),
			"error":     err.Error(),
		})
		h.fail(c, status, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// state is the AJAX variant of start.
func (h *Handler) state(c *gin.Context) {
	authURL, status, err := h.begin(c)
	if err != nil {
		logger.Error("login initiation failed", map[string]any{
			"component": "handler",
			"phase":     "initiate",
			"provider":  c.Param("provider"),
			"error":     err.Error(),
		})
		msg := "failed to start login"
		if status == http.StatusNotFound {
			msg = "unknown oauth provider"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": authURL})
}
