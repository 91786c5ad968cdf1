package microsoft

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/auth/provider"
	"elogbook-sso/internal/logger"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	providerName = "microsoft"
	authHost     = "login.microsoftonline.com"
)

// Multi-tenant aliases: tokens carry the user's real tenant as issuer.
var multiTenant = map[string]bool{
	"common":        true,
	"organizations": true,
	"consumers":     true,
}

type Provider struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier

	// Set for the multi-tenant aliases. Only tokens whose tid is listed are
	// accepted, and only the email claim is trusted for linking.
	multiTenant    bool
	allowedTenants map[string]bool
}

type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AllowedTenants is required when TenantID is a multi-tenant alias.
	AllowedTenants []string
}

var errTenantNotAllowed = errors.New("microsoft id_token tenant not allowed")

func IsMultiTenant(tenant string) bool {
	return multiTenant[strings.ToLower(strings.TrimSpace(tenant))]
}

func Issuer(tenant string) string {
	return "https://" + authHost + "/" + tenant + "/v2.0"
}

// New discovers the tenant's OIDC endpoints. For the multi-tenant aliases the
// issuer check is skipped because every tenant signs with its own issuer.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, errors.New("microsoft oauth config missing required fields")
	}
	if cfg.TenantID == "" {
		return nil, errors.New("microsoft tenant id must be set")
	}

	issuer := Issuer(cfg.TenantID)
	skipIssuer := IsMultiTenant(cfg.TenantID)
	if skipIssuer && len(cfg.AllowedTenants) == 0 {
		return nil, fmt.Errorf("microsoft tenant %q accepts any directory; allowed tenants must be listed", cfg.TenantID)
	}
	if skipIssuer {
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init microsoft oidc provider: %w", err)
	}

	verifier := oidcProvider.Verifier(&oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: skipIssuer,
	})

	return newProvider(cfg, oidcProvider.Endpoint(), verifier), nil
}

func newProvider(cfg Config, ep oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	allowed := make(map[string]bool, len(cfg.AllowedTenants))
	for _, t := range cfg.AllowedTenants {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			allowed[t] = true
		}
	}

	return &Provider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes: []string{
				oidc.ScopeOpenID,
				"profile",
				"email",
				"User.Read",
			},
		},
		verifier:       verifier,
		multiTenant:    IsMultiTenant(cfg.TenantID),
		allowedTenants: allowed,
	}
}

func (p *Provider) Name() string        { return providerName }
func (p *Provider) DisplayName() string { return "Microsoft" }
func (p *Provider) AuthHost() string    { return authHost }

// AuthCodeURL builds the OAuth authorization URL with PKCE parameters.
func (p *Provider) AuthCodeURL(state string, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (p *Provider) ExchangeCode(ctx context.Context, code string, codeVerifier string) (*auth.Identity, error) {
	token, err := p.oauthConfig.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("microsoft token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("microsoft did not return id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("microsoft id_token verification failed: %w", err)
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("microsoft id_token claims parse failed: %w", err)
	}

	identity, err := p.identityFromClaims(raw)
	if err != nil {
		return nil, err
	}
	if identity.ProviderAccountID == "" {
		return nil, errors.New("microsoft id_token missing subject")
	}

	logger.Info("microsoft oidc verified", map[string]any{
		"component":     "provider",
		"issuer":        idToken.Issuer,
		"email_present": identity.Email != "",
		"expiry_unix":   idToken.Expiry.Unix(),
	})

	return identity, nil
}

// identityFromClaims applies the tenant policy before mapping claims. In
// multi-tenant mode preferred_username and upn are set by whichever directory
// issued the token, so they never select a local account.
func (p *Provider) identityFromClaims(raw map[string]any) (*auth.Identity, error) {
	if !p.multiTenant {
		return IdentityFromClaims(raw, true), nil
	}

	tid := strings.ToLower(provider.StringClaim(raw, "tid"))
	if tid == "" || !p.allowedTenants[tid] {
		logger.Warn("microsoft token from unlisted tenant rejected", map[string]any{
			"component": "provider",
			"tid":       tid,
		})
		return nil, fmt.Errorf("%w: %q", errTenantNotAllowed, tid)
	}
	// The verifier skipped the issuer check, so bind it to the listed tenant.
	if iss := provider.StringClaim(raw, "iss"); iss != "" && !strings.EqualFold(iss, Issuer(tid)) {
		return nil, fmt.Errorf("%w: issuer %q does not match tenant", errTenantNotAllowed, iss)
	}
	return IdentityFromClaims(raw, false), nil
}

// IdentityFromClaims maps Entra ID token claims. Work accounts often carry no
// email claim, so with trustUsername set preferred_username and upn are used
// as fallbacks. Only do that for a pinned tenant.
func IdentityFromClaims(raw map[string]any, trustUsername bool) *auth.Identity {
	keys := []string{"email"}
	if trustUsername {
		keys = append(keys, "preferred_username", "upn")
	}
	email := provider.StringClaim(raw, keys...)
	if !strings.Contains(email, "@") {
		email = ""
	}

	return &auth.Identity{
		Provider:          providerName,
		ProviderAccountID: provider.StringClaim(raw, "oid", "sub"),
		Email:             email,
		GivenName:         provider.StringClaim(raw, "given_name"),
		FamilyName:        provider.StringClaim(raw, "family_name"),
		RawClaims:         raw,
	}
}
