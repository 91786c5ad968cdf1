package provider

import (
	"context"

	"elogbook-sso/internal/auth"
)

// OAuthProvider defines the contract every external auth provider
// must implement. Implementations return identity facts only and
// must not perform user creation, linking, or session management.
type OAuthProvider interface {
	// Name returns the route identifier (e.g. "microsoft", "oidc").
	Name() string

	// DisplayName is shown on the login page.
	DisplayName() string

	// AuthHost is the host serving the provider's sign-in pages. It is
	// used to tell provider-side failures apart from local ones.
	AuthHost() string

	// AuthCodeURL returns the OAuth authorization URL.
	// State and PKCE parameters are provided by the caller.
	AuthCodeURL(state string, codeChallenge string) string

	// ExchangeCode exchanges the authorization code for verified claims.
	// A missing email is not an error here; the linker decides.
	ExchangeCode(ctx context.Context, code string, codeVerifier string) (*auth.Identity, error)
}
