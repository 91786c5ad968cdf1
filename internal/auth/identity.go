package auth

// Identity is the verified set of claims a provider hands back.
// It contains facts only, no decisions.
type Identity struct {
	Provider          string // e.g. "microsoft"
	ProviderAccountID string // provider-scoped subject
	Email             string
	GivenName         string
	FamilyName        string

	// RawClaims feeds role mapping (roles, groups, app_role, ...).
	RawClaims map[string]any
}
