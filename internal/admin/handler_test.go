package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/audit"
	"elogbook-sso/internal/middleware"
	"elogbook-sso/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *syncRecorder) Record(_ context.Context, e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

type fixture struct {
	engine   *gin.Engine
	accounts *account.MemoryRepository
	sessions *session.MemoryStore
	audit    *syncRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		accounts: account.NewMemoryRepository(),
		sessions: session.NewMemoryStore(),
		audit:    &syncRecorder{},
	}
	svc := account.NewService(f.accounts, session.NewRevoker(f.sessions), f.audit)

	f.engine = gin.New()
	g := f.engine.Group("/admin", func(c *gin.Context) {
		c.Set(middleware.AccountIDKey, "admin-actor")
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(g)
	return f
}

func (f *fixture) seed(t *testing.T, a *account.Account) *account.Account {
	t.Helper()
	require.NoError(t, f.accounts.Create(context.Background(), a))
	now := time.Now()
	require.NoError(t, f.sessions.Create(context.Background(), session.Session{
		SessionID: "sid-" + a.ID.String(),
		AccountID: a.ID.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}))
	return a
}

func (f *fixture) sessionAlive(t *testing.T, a *account.Account) bool {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), "sid-"+a.ID.String())
	require.NoError(t, err)
	return s != nil
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestUpdateRole_RevokesSessions(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, &account.Account{Email: "s@x.com", Username: "s", Role: account.RoleStudent})

	rec := f.do(http.MethodPatch, "/admin/accounts/"+a.ID.String()+"/role", `{"role":"doctor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"doctor"`)
	assert.False(t, f.sessionAlive(t, a))

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "admin", f.audit.entries[0].Provider)
	assert.Equal(t, [2]string{"student", "doctor"}, f.audit.entries[0].ChangedFields["role"])
}

func TestUpdateRole_SameRoleKeepsSessions(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, &account.Account{Email: "s@x.com", Username: "s", Role: account.RoleStaff})

	rec := f.do(http.MethodPatch, "/admin/accounts/"+a.ID.String()+"/role", `{"role":"staff"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.sessionAlive(t, a))
	assert.Empty(t, f.audit.entries)
}

func TestUpdateRole_Errors(t *testing.T) {
	f := newFixture(t)
	su := f.seed(t, &account.Account{Email: "root@x.com", Username: "root", IsSuperuser: true})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"bad id", "/admin/accounts/nope/role", `{"role":"staff"}`, http.StatusBadRequest},
		{"missing role", "/admin/accounts/" + su.ID.String() + "/role", `{}`, http.StatusBadRequest},
		{"unknown role", "/admin/accounts/" + su.ID.String() + "/role", `{"role":"wizard"}`, http.StatusBadRequest},
		{"unknown account", "/admin/accounts/" + uuid.NewString() + "/role", `{"role":"staff"}`, http.StatusNotFound},
		{"superuser demotion", "/admin/accounts/" + su.ID.String() + "/role", `{"role":"staff"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.True(t, f.sessionAlive(t, su))
}

func TestSoftDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, &account.Account{Email: "d@x.com", Username: "d", Role: account.RoleDoctor})
	path := "/admin/accounts/" + a.ID.String()

	rec := f.do(http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.sessionAlive(t, a))

	got, err := f.accounts.GetByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, got.IsDeleted())
	assert.Equal(t, "admin-actor", got.Status.(account.Deleted).By)

	rec = f.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, path+"/restore", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":false`)
}

func TestRestore_EmailTakenMeanwhile(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, &account.Account{Email: "d@x.com", Username: "d", Role: account.RoleDoctor})

	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/admin/accounts/"+a.ID.String(), "").Code)
	f.seed(t, &account.Account{Email: "D@x.com", Username: "d2", Role: account.RoleDoctor})

	rec := f.do(http.MethodPost, "/admin/accounts/"+a.ID.String()+"/restore", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
