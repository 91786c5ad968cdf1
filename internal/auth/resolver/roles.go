package resolver

import (
	"fmt"
	"strings"

	"elogbook-sso/internal/account"
)

// Claim keys consulted for role mapping, in priority order.
var roleClaimKeys = []string{"app_role", "role", "roles", "groups"}

// ParseRoleMapping converts configured claim value -> role name pairs.
func ParseRoleMapping(raw map[string]string) (map[string]account.Role, error) {
	out := make(map[string]account.Role, len(raw))
	for claim, name := range raw {
		role, err := account.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("resolver: mapping for %q: %w", claim, err)
		}
		out[strings.ToLower(claim)] = role
	}
	return out, nil
}

func claimValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// mapRole returns the first role the mapping yields for the claims.
func mapRole(mapping map[string]account.Role, claims map[string]any) (account.Role, bool) {
	for _, key := range roleClaimKeys {
		for _, v := range claimValues(claims[key]) {
			if role, ok := mapping[strings.ToLower(strings.TrimSpace(v))]; ok {
				return role, true
			}
		}
	}
	return 0, false
}
