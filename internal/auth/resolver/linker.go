package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/audit"
	"elogbook-sso/internal/auth"
	"elogbook-sso/internal/logger"
)

type Options struct {
	// RoleMapping only applies when RoleOverride is set.
	RoleMapping    map[string]account.Role
	RoleOverride   bool
	NewAccountRole account.Role
}

// Linker resolves, creates and merges local accounts from verified
// identities. Work for one email happens under the repository's email lock.
type Linker struct {
	accounts account.Repository
	revoker  account.SessionRevoker
	audit    audit.Recorder
	opts     Options
	now      func() time.Time
}

func NewLinker(accounts account.Repository, revoker account.SessionRevoker, recorder audit.Recorder, opts Options) *Linker {
	return &Linker{
		accounts: accounts,
		revoker:  revoker,
		audit:    recorder,
		opts:     opts,
		now:      time.Now,
	}
}

// outcome carries what must happen after the locked section commits.
type outcome struct {
	result  *Result
	changes audit.Changes
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (l *Linker) Resolve(ctx context.Context, identity *auth.Identity) (*Result, error) {
	if identity == nil {
		return nil, errors.New("resolver: identity is nil")
	}

	email := normalizeEmail(identity.Email)
	if email == "" {
		return nil, auth.ErrMissingIdentityEmail
	}

	fields := map[string]any{
		"component": "resolver",
		"provider":  identity.Provider,
	}

	var out outcome
	err := l.accounts.WithEmailLock(ctx, email, func(repo account.Repository) error {
		existing, err := repo.FindActiveByEmail(ctx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			out, err = l.merge(ctx, repo, existing, identity, email)
			return err
		}
		out, err = l.create(ctx, repo, identity, email)
		return err
	})
	if err != nil {
		return l.fallback(ctx, identity, email, err)
	}

	res := out.result
	fields["account_id"] = res.Account.ID.String()
	fields["created"] = res.Created

	if res.RoleChanged {
		if _, err := l.revoker.RevokeAll(ctx, res.Account.ID.String()); err != nil {
			fields["error"] = err.Error()
			logger.Error("session revocation after role change failed", fields)
		}
	}

	if len(out.changes) > 0 {
		l.audit.Record(ctx, audit.Entry{
			AccountID:     res.Account.ID,
			Provider:      identity.Provider,
			ChangedFields: out.changes,
			Timestamp:     l.now().UTC(),
		})
	}

	logger.Info("identity resolved", fields)
	return res, nil
}

func (l *Linker) merge(ctx context.Context, repo account.Repository, a *account.Account, identity *auth.Identity, email string) (outcome, error) {
	if err := repo.LinkIdentity(ctx, account.Identity{
		AccountID:      a.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderAccountID,
	}); err != nil {
		return outcome{}, fmt.Errorf("resolver: link identity: %w", err)
	}

	changes := audit.Changes{}

	if given := strings.TrimSpace(identity.GivenName); given != "" && changes.Set("first_name", a.GivenName, given) {
		a.GivenName = given
	}
	if family := strings.TrimSpace(identity.FamilyName); family != "" && changes.Set("last_name", a.FamilyName, family) {
		a.FamilyName = family
	}
	if changes.Set("email", a.Email, email) {
		a.Email = email
	}

	roleChanged := false
	if l.opts.RoleOverride && len(l.opts.RoleMapping) > 0 && !a.IsSuperuser {
		if mapped, ok := mapRole(l.opts.RoleMapping, identity.RawClaims); ok {
			prev := a.Role
			if account.RoleChanged(&prev, mapped) {
				changes.Set("role", prev.String(), mapped.String())
				a.Role = mapped
				roleChanged = true
			}
		}
	}

	if len(changes) > 0 {
		if err := repo.Update(ctx, a); err != nil {
			return outcome{}, fmt.Errorf("resolver: update account: %w", err)
		}
	}

	return outcome{
		result: &Result{
			Account:         a,
			PendingApproval: a.Role == account.RolePending,
			RoleChanged:     roleChanged,
		},
		changes: changes,
	}, nil
}

func (l *Linker) create(ctx context.Context, repo account.Repository, identity *auth.Identity, email string) (outcome, error) {
	username, err := uniqueUsername(ctx, repo, email)
	if err != nil {
		return outcome{}, err
	}

	a := &account.Account{
		Email:      email,
		Username:   username,
		GivenName:  strings.TrimSpace(identity.GivenName),
		FamilyName: strings.TrimSpace(identity.FamilyName),
		Role:       l.opts.NewAccountRole,
		Status:     account.Active{},
	}
	if err := repo.Create(ctx, a); err != nil {
		return outcome{}, fmt.Errorf("resolver: create account: %w", err)
	}

	if err := repo.LinkIdentity(ctx, account.Identity{
		AccountID:      a.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderAccountID,
	}); err != nil {
		return outcome{}, fmt.Errorf("resolver: link identity: %w", err)
	}

	changes := audit.Changes{}
	changes.Set("email", "", a.Email)
	changes.Set("username", "", a.Username)
	changes.Set("role", "", a.Role.String())

	return outcome{
		result: &Result{
			Account:         a,
			Created:         true,
			PendingApproval: a.Role == account.RolePending,
		},
		changes: changes,
	}, nil
}

// fallback retries one plain lookup by email so a failed write does not strand
// a user who already has an account.
func (l *Linker) fallback(ctx context.Context, identity *auth.Identity, email string, cause error) (*Result, error) {
	if errors.Is(cause, account.ErrDuplicate) {
		cause = fmt.Errorf("%w: %v", auth.ErrDuplicateAccountRace, cause)
	}

	fields := map[string]any{
		"component": "resolver",
		"provider":  identity.Provider,
		"error":     cause.Error(),
	}
	logger.Warn("identity resolution failed, retrying lookup", fields)

	a, err := l.accounts.FindActiveByEmail(ctx, email)
	if err != nil || a == nil {
		return nil, cause
	}

	if err := l.accounts.LinkIdentity(ctx, account.Identity{
		AccountID:      a.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.ProviderAccountID,
	}); err != nil {
		fields["link_error"] = err.Error()
		logger.Warn("identity link after fallback failed", fields)
	}

	return &Result{
		Account:         a,
		PendingApproval: a.Role == account.RolePending,
	}, nil
}
