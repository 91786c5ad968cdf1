package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"elogbook-sso/internal/account"
)

const (
	maxUsernameLen   = 30
	maxUsernameTries = 1000
)

func usernameBase(email string) string {
	local, _, _ := strings.Cut(email, "@")

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	base := strings.Trim(b.String(), ".-_")
	if len(base) > maxUsernameLen {
		base = base[:maxUsernameLen]
	}
	if base == "" {
		base = "user"
	}
	return base
}

// uniqueUsername returns base, or base followed by the first free counter.
func uniqueUsername(ctx context.Context, repo account.Repository, email string) (string, error) {
	base := usernameBase(email)
	candidate := base

	for i := 1; i <= maxUsernameTries; i++ {
		taken, err := repo.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(i)
	}

	return "", fmt.Errorf("resolver: no free username for base %q", base)
}
