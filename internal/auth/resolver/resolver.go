package resolver

import (
	"context"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/auth"
)

// Resolver determines which local account an external identity belongs to.
// It is the ONLY place where identity-to-account mapping logic lives.
type Resolver interface {
	Resolve(ctx context.Context, identity *auth.Identity) (*Result, error)
}

type Result struct {
	Account *account.Account
	Created bool

	// PendingApproval means the account may not sign in yet and the user
	// belongs on the holding page.
	PendingApproval bool

	RoleChanged bool
}
