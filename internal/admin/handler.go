// Package admin exposes account administration over HTTP. Routes must be
// mounted behind GinRequireAuth and RequireRole(admin).
package admin

import (
	"errors"
	"net/http"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	accounts *account.Service
}

func NewHandler(svc *account.Service) *Handler {
	return &Handler{accounts: svc}
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.PATCH("/accounts/:id/role", h.updateRole)
	g.DELETE("/accounts/:id", h.softDelete)
	g.POST("/accounts/:id/restore", h.restore)
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

func accountJSON(a *account.Account) gin.H {
	return gin.H{
		"id":       a.ID.String(),
		"email":    a.Email,
		"username": a.Username,
		"role":     a.Role.String(),
		"deleted":  a.IsDeleted(),
	}
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, account.ErrNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, account.ErrSuperuserRole):
		return http.StatusConflict, "superusers must keep the admin role"
	case errors.Is(err, account.ErrAlreadyDeleted):
		return http.StatusConflict, "account already deleted"
	case errors.Is(err, account.ErrDuplicate):
		return http.StatusConflict, "another active account uses this email"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) respondErr(c *gin.Context, op string, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("admin operation failed", map[string]any{
			"component": "admin",
			"op":        op,
			"error":     err.Error(),
		})
	}
	c.JSON(status, gin.H{"error": msg})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) updateRole(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}
	role, err := account.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	a, err := h.accounts.UpdateRole(c.Request.Context(), id, role)
	if err != nil {
		h.respondErr(c, "update_role", err)
		return
	}
	c.JSON(http.StatusOK, accountJSON(a))
}

func (h *Handler) softDelete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.accounts.SoftDelete(c.Request.Context(), id, c.GetString(middleware.AccountIDKey)); err != nil {
		h.respondErr(c, "soft_delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) restore(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	a, err := h.accounts.Restore(c.Request.Context(), id)
	if err != nil {
		h.respondErr(c, "restore", err)
		return
	}
	c.JSON(http.StatusOK, accountJSON(a))
}
