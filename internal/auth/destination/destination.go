// Package destination computes where a signed-in browser goes next.
package destination

import (
	"context"
	"net/url"
	"strings"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/auth/redirect"
	"elogbook-sso/internal/logger"

	"github.com/google/uuid"
)

const WelcomePath = "/accounts/welcome/"

// RouteFor is the home page of each role.
func RouteFor(role account.Role) string {
	switch role {
	case account.RolePending:
		return WelcomePath
	case account.RoleDefaultUser:
		return "/defaultuser/"
	case account.RoleStudent:
		return "/student_section/"
	case account.RoleDoctor:
		return "/doctor_section/"
	case account.RoleStaff:
		return "/staff_section/"
	case account.RoleAdmin:
		return "/admin_section/"
	default:
		return ""
	}
}

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

type Router struct {
	accounts      AccountReader
	validator     *redirect.Validator
	fallback      string
	providerHosts []string
}

func NewRouter(accounts AccountReader, validator *redirect.Validator, fallback string, providerHosts []string) *Router {
	if fallback == "" {
		fallback = "/"
	}
	return &Router{
		accounts:      accounts,
		validator:     validator,
		fallback:      fallback,
		providerHosts: providerHosts,
	}
}

// Destination re-reads the account and returns its target. A safe next wins
// over the role route except for accounts awaiting approval.
func (r *Router) Destination(ctx context.Context, accountID, next, host, scheme string) (string, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return "", auth.ErrSessionNotEstablished
	}

	a, err := r.accounts.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if a == nil || a.IsDeleted() {
		return "", auth.ErrSessionNotEstablished
	}

	if a.Role == account.RolePending {
		return WelcomePath, nil
	}

	if next != "" {
		if u, ok := r.validator.Validate(next, host, scheme); ok {
			return u.String(), nil
		}
		logger.Debug("ignoring next parameter", map[string]any{
			"component":  "destination",
			"account_id": accountID,
			"reason":     auth.ErrUnsafeRedirect.Error(),
		})
	}

	if route := RouteFor(a.Role); route != "" {
		return route, nil
	}
	return r.fallback, nil
}

type Diagnosis int

const (
	DiagnosisNone Diagnosis = iota
	// DiagnosisProviderSide: the browser came straight from the provider,
	// so sign-in never completed there.
	DiagnosisProviderSide
	// DiagnosisLocalSession: the callback ran here but the session cookie did
	// not stick.
	DiagnosisLocalSession
)

func (d Diagnosis) String() string {
	switch d {
	case DiagnosisProviderSide:
		return "provider_side"
	case DiagnosisLocalSession:
		return "local_session"
	default:
		return "none"
	}
}

// Diagnose inspects the referrer of an unauthenticated post-login arrival.
func (r *Router) Diagnose(referrer, requestHost string) Diagnosis {
	if referrer == "" {
		return DiagnosisNone
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return DiagnosisNone
	}

	for _, h := range r.providerHosts {
		if strings.EqualFold(u.Hostname(), h) || strings.HasSuffix(strings.ToLower(u.Hostname()), "."+strings.ToLower(h)) {
			return DiagnosisProviderSide
		}
	}

	local := u.Host == "" || strings.EqualFold(u.Host, requestHost)
	if local && strings.HasPrefix(u.Path, "/login/") && strings.HasSuffix(strings.TrimSuffix(u.Path, "/"), "/callback") {
		return DiagnosisLocalSession
	}

	return DiagnosisNone
}
