package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/audit"
	"elogbook-sso/internal/auth"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRevoker struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRevoker) RevokeAll(_ context.Context, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, accountID)
	return 0, nil
}

type syncRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *syncRecorder) Record(_ context.Context, e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *syncRecorder) all() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

type fixture struct {
	repo    *account.MemoryRepository
	revoker *recordingRevoker
	audit   *syncRecorder
	linker  *Linker
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		repo:    account.NewMemoryRepository(),
		revoker: &recordingRevoker{},
		audit:   &syncRecorder{},
	}
	f.linker = NewLinker(f.repo, f.revoker, f.audit, opts)
	return f
}

func (f *fixture) seed(t *testing.T, a *account.Account) *account.Account {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), a))
	return a
}

func identity(email string) *auth.Identity {
	return &auth.Identity{
		Provider:          "microsoft",
		ProviderAccountID: "oid-" + email,
		Email:             email,
		GivenName:         "Jane",
		FamilyName:        "Doe",
	}
}

func TestResolve_MissingEmail(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.linker.Resolve(context.Background(), &auth.Identity{Provider: "microsoft", ProviderAccountID: "x"})
	assert.ErrorIs(t, err, auth.ErrMissingIdentityEmail)
	assert.Equal(t, 0, f.repo.Count())
}

func TestResolve_ExistingAccountMergesProfile(t *testing.T) {
	f := newFixture(Options{})
	existing := f.seed(t, &account.Account{
		Email: "jane@example.com", Username: "jane", GivenName: "Old", FamilyName: "Doe",
		Role: account.RoleStudent,
	})

	res, err := f.linker.Resolve(context.Background(), identity("Jane@Example.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.repo.Count())
	assert.Equal(t, existing.ID, res.Account.ID)
	assert.False(t, res.Created)
	assert.False(t, res.PendingApproval)

	stored, err := f.repo.GetByID(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane", stored.GivenName)
	assert.Equal(t, "jane@example.com", stored.Email)

	entries := f.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, [2]string{"Old", "Jane"}, entries[0].ChangedFields["first_name"])
	assert.NotContains(t, entries[0].ChangedFields, "email")
	assert.Equal(t, "microsoft", entries[0].Provider)
}

func TestResolve_EmailCasingIsAudited(t *testing.T) {
	f := newFixture(Options{})
	f.seed(t, &account.Account{Email: "Jane@Example.com", Username: "jane", GivenName: "Jane", FamilyName: "Doe"})

	_, err := f.linker.Resolve(context.Background(), identity("jane@example.com"))
	require.NoError(t, err)

	entries := f.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, [2]string{"Jane@Example.com", "jane@example.com"}, entries[0].ChangedFields["email"])
}

func TestResolve_IsIdempotent(t *testing.T) {
	f := newFixture(Options{})
	existing := f.seed(t, &account.Account{Email: "jane@example.com", Username: "jane", GivenName: "Old"})

	_, err := f.linker.Resolve(context.Background(), identity("jane@example.com"))
	require.NoError(t, err)
	_, err = f.linker.Resolve(context.Background(), identity("jane@example.com"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.repo.Count())

	ids, err := f.repo.ListIdentities(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	// Only the first login changed anything.
	assert.Len(t, f.audit.all(), 1)
}

func TestResolve_NewAccountIsPending(t *testing.T) {
	f := newFixture(Options{NewAccountRole: account.RolePending})

	id := identity("new.user@x.com")
	id.GivenName, id.FamilyName = "New", "User"

	res, err := f.linker.Resolve(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.True(t, res.PendingApproval)
	assert.Equal(t, "new.user", res.Account.Username)
	assert.Equal(t, account.RolePending, res.Account.Role)
	assert.Equal(t, "new.user@x.com", res.Account.Email)
	assert.Equal(t, 1, f.repo.Count())

	entries := f.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, [2]string{"", "new.user"}, entries[0].ChangedFields["username"])
	assert.Equal(t, [2]string{"", "pending"}, entries[0].ChangedFields["role"])
}

func TestResolve_UsernameCollisionGetsSuffix(t *testing.T) {
	f := newFixture(Options{NewAccountRole: account.RoleDefaultUser})
	f.seed(t, &account.Account{Email: "other@y.com", Username: "new.user"})
	f.seed(t, &account.Account{Email: "other2@y.com", Username: "new.user1"})

	res, err := f.linker.Resolve(context.Background(), identity("new.user@x.com"))
	require.NoError(t, err)

	assert.Equal(t, "new.user2", res.Account.Username)
	assert.False(t, res.PendingApproval)
}

func TestResolve_DeletedAccountIsNotReused(t *testing.T) {
	f := newFixture(Options{NewAccountRole: account.RolePending})
	old := f.seed(t, &account.Account{Email: "jane@example.com", Username: "jane"})
	old.Status = account.Deleted{By: "admin"}
	require.NoError(t, f.repo.Update(context.Background(), old))

	res, err := f.linker.Resolve(context.Background(), identity("jane@example.com"))
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.NotEqual(t, old.ID, res.Account.ID)
	assert.Equal(t, "jane1", res.Account.Username)
}

func TestResolve_RoleMappingWithOverride(t *testing.T) {
	f := newFixture(Options{
		RoleOverride: true,
		RoleMapping:  map[string]account.Role{"elog.student": account.RoleStudent},
	})
	existing := f.seed(t, &account.Account{Email: "jane@example.com", Username: "jane", GivenName: "Jane", FamilyName: "Doe"})

	id := identity("jane@example.com")
	id.RawClaims = map[string]any{"roles": []any{"Other", "Elog.Student"}}

	res, err := f.linker.Resolve(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, res.RoleChanged)
	assert.Equal(t, account.RoleStudent, res.Account.Role)
	assert.Equal(t, []string{existing.ID.String()}, f.revoker.calls)

	entries := f.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, [2]string{"pending", "student"}, entries[0].ChangedFields["role"])
}

func TestResolve_RoleMappingIgnoredWithoutOverride(t *testing.T) {
	f := newFixture(Options{
		RoleMapping: map[string]account.Role{"staff-group": account.RoleStaff},
	})
	f.seed(t, &account.Account{Email: "jane@example.com", Username: "jane", GivenName: "Jane", FamilyName: "Doe", Role: account.RoleStudent})

	id := identity("jane@example.com")
	id.RawClaims = map[string]any{"groups": []any{"staff-group"}}

	res, err := f.linker.Resolve(context.Background(), id)
	require.NoError(t, err)

	assert.False(t, res.RoleChanged)
	assert.Equal(t, account.RoleStudent, res.Account.Role)
	assert.Empty(t, f.revoker.calls)
}

func TestResolve_SuperuserKeepsAdmin(t *testing.T) {
	f := newFixture(Options{
		RoleOverride: true,
		RoleMapping:  map[string]account.Role{"student": account.RoleStudent},
	})
	f.seed(t, &account.Account{Email: "root@example.com", Username: "root", GivenName: "Jane", FamilyName: "Doe", IsSuperuser: true})

	id := identity("root@example.com")
	id.RawClaims = map[string]any{"app_role": "student"}

	res, err := f.linker.Resolve(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, account.RoleAdmin, res.Account.Role)
	assert.False(t, res.RoleChanged)
}

func TestResolve_ConcurrentFirstLoginsCreateOneAccount(t *testing.T) {
	f := newFixture(Options{NewAccountRole: account.RolePending})

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.linker.Resolve(context.Background(), identity("race@x.com"))
			if assert.NoError(t, err) {
				ids <- res.Account.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	assert.Equal(t, 1, f.repo.Count())

	seen := map[uuid.UUID]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

// flakyRepo fails every update but otherwise behaves like the memory repo.
type flakyRepo struct {
	*account.MemoryRepository
}

func (flakyRepo) Update(context.Context, *account.Account) error {
	return errors.New("connection reset")
}

func (f flakyRepo) WithEmailLock(ctx context.Context, email string, fn func(account.Repository) error) error {
	return f.MemoryRepository.WithEmailLock(ctx, email, func(account.Repository) error {
		return fn(f)
	})
}

func TestResolve_FallsBackToLookupOnWriteFailure(t *testing.T) {
	mem := account.NewMemoryRepository()
	existing := &account.Account{Email: "jane@example.com", Username: "jane", GivenName: "Old", Role: account.RoleDoctor}
	require.NoError(t, mem.Create(context.Background(), existing))

	linker := NewLinker(flakyRepo{mem}, &recordingRevoker{}, &syncRecorder{}, Options{})

	res, err := linker.Resolve(context.Background(), identity("jane@example.com"))
	require.NoError(t, err)
	assert.Equal(t, existing.ID, res.Account.ID)
	assert.Equal(t, account.RoleDoctor, res.Account.Role)
}

// racingRepo simulates another request creating the account between the
// lookup and the insert.
type racingRepo struct {
	*account.MemoryRepository
}

func (racingRepo) Create(context.Context, *account.Account) error {
	return account.ErrDuplicate
}

func (r racingRepo) WithEmailLock(ctx context.Context, email string, fn func(account.Repository) error) error {
	return fn(r)
}

func TestResolve_DuplicateRaceWithoutWinnerPropagates(t *testing.T) {
	linker := NewLinker(racingRepo{account.NewMemoryRepository()}, &recordingRevoker{}, &syncRecorder{}, Options{})

	_, err := linker.Resolve(context.Background(), identity("race@x.com"))
	assert.ErrorIs(t, err, auth.ErrDuplicateAccountRace)
}

func TestUsernameBase(t *testing.T) {
	assert.Equal(t, "new.user", usernameBase("New.User@x.com"))
	assert.Equal(t, "ab_c", usernameBase("a+b_c@x.com"))
	assert.Equal(t, "user", usernameBase("++@x.com"))
}

func TestParseRoleMapping(t *testing.T) {
	m, err := ParseRoleMapping(map[string]string{"Elog.Doctor": "doctor"})
	require.NoError(t, err)
	assert.Equal(t, account.RoleDoctor, m["elog.doctor"])

	_, err = ParseRoleMapping(map[string]string{"x": "wizard"})
	assert.Error(t, err)
}
