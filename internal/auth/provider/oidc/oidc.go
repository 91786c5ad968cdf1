package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/auth/provider"
	"elogbook-sso/internal/logger"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const providerName = "oidc"

// Provider implements OAuth + OIDC authentication against any discovery
// compliant issuer (Keycloak, Authentik, ...).
type Provider struct {
	oauthConfig *oauth2.Config
	verifier    *gooidc.IDTokenVerifier
	authHost    string
}

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Issuer == "" || cfg.ClientID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("oidc config missing required fields")
	}

	oidcProvider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init oidc provider: %w", err)
	}

	ep := oidcProvider.Endpoint()

	host := ""
	if u, err := url.Parse(ep.AuthURL); err == nil {
		host = u.Host
	}

	return &Provider{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     ep,
			Scopes: []string{
				gooidc.ScopeOpenID,
				"email",
				"profile",
			},
		},
		verifier: oidcProvider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		authHost: host,
	}, nil
}

func (p *Provider) Name() string        { return providerName }
func (p *Provider) DisplayName() string { return "Single sign-on" }
func (p *Provider) AuthHost() string    { return p.authHost }

// AuthCodeURL builds the OAuth authorization URL with PKCE parameters.
func (p *Provider) AuthCodeURL(state string, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// ExchangeCode exchanges the authorization code and returns a normalized identity.
// This method MUST NOT create users, sessions, or perform linking logic.
func (p *Provider) ExchangeCode(ctx context.Context, code string, codeVerifier string) (*auth.Identity, error) {
	token, err := p.oauthConfig.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		logger.Error("oidc token exchange failed", map[string]any{
			"component": "provider",
			"error":     err.Error(),
		})
		return nil, err
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("oidc provider did not return id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		logger.Error("oidc id_token verification failed", map[string]any{
			"component": "provider",
			"error":     err.Error(),
		})
		return nil, err
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("oidc id_token claims parse failed: %w", err)
	}

	identity := IdentityFromClaims(raw)
	if identity.ProviderAccountID == "" {
		return nil, errors.New("oidc id_token missing subject")
	}

	logger.Info("oidc verified", map[string]any{
		"component":     "provider",
		"issuer":        idToken.Issuer,
		"email_present": identity.Email != "",
		"audience":      idToken.Audience,
		"expiry_unix":   idToken.Expiry.Unix(),
	})

	return identity, nil
}

// IdentityFromClaims maps standard OIDC claims. Keycloak nests realm roles
// under realm_access.roles; they are lifted to a top-level "roles" claim so
// role mapping sees them.
func IdentityFromClaims(raw map[string]any) *auth.Identity {
	if _, ok := raw["roles"]; !ok {
		if access, ok := raw["realm_access"].(map[string]any); ok {
			if roles, ok := access["roles"]; ok {
				raw["roles"] = roles
			}
		}
	}

	return &auth.Identity{
		Provider:          providerName,
		ProviderAccountID: provider.StringClaim(raw, "sub"),
		Email:             provider.StringClaim(raw, "email"),
		GivenName:         provider.StringClaim(raw, "given_name"),
		FamilyName:        provider.StringClaim(raw, "family_name"),
		RawClaims:         raw,
	}
}
