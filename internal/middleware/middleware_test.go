package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/auth/pending"
	"elogbook-sso/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newSession(t *testing.T, store session.Store, accountID string, ttl time.Duration) *http.Cookie {
	t.Helper()
	now := time.Now()
	s := session.Session{SessionID: "sid-" + accountID, AccountID: accountID, IssuedAt: now, ExpiresAt: now.Add(ttl)}
	require.NoError(t, store.Create(context.Background(), s))
	return &http.Cookie{Name: session.CookieName, Value: s.SessionID}
}

func TestGinRequireAuth(t *testing.T) {
	store := session.NewMemoryStore()
	mw := NewAuthMiddleware(store)

	r := gin.New()
	r.GET("/me", GinRequireAuth(mw), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(AccountIDKey))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(newSession(t, store, "acc-1", time.Hour))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acc-1", rec.Body.String())
}

func TestGinOptionalAuth(t *testing.T) {
	store := session.NewMemoryStore()
	r := gin.New()
	r.GET("/", GinOptionalAuth(NewAuthMiddleware(store)), func(c *gin.Context) {
		id, _ := AccountIDFromContext(c.Request.Context())
		c.String(http.StatusOK, "["+id+"]")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "[]", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(newSession(t, store, "acc-2", time.Hour))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "[acc-2]", rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	store := session.NewMemoryStore()
	accounts := account.NewMemoryRepository()
	admin := &account.Account{Email: "a@x.com", Username: "a", Role: account.RoleAdmin}
	student := &account.Account{Email: "s@x.com", Username: "s", Role: account.RoleStudent}
	require.NoError(t, accounts.Create(context.Background(), admin))
	require.NoError(t, accounts.Create(context.Background(), student))

	r := gin.New()
	r.GET("/admin", GinRequireAuth(NewAuthMiddleware(store)), RequireRole(accounts, account.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	call := func(a *account.Account) int {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.AddCookie(newSession(t, store, a.ID.String(), time.Hour))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call(admin))
	assert.Equal(t, http.StatusForbidden, call(student))

	// Role is read per request, so a demotion takes effect immediately.
	admin.Role = account.RoleStaff
	require.NoError(t, accounts.Update(context.Background(), admin))
	assert.Equal(t, http.StatusForbidden, call(admin))
}

func TestAuthenticate_ExpiredSessionDeleted(t *testing.T) {
	store := session.NewMemoryStore()
	cookie := newSession(t, store, "acc-3", 50*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	_, ok := NewAuthMiddleware(store).Authenticate(req)
	assert.False(t, ok)
}

func TestPopupBridge_RewritesArmedRedirect(t *testing.T) {
	r := gin.New()
	r.GET("/cb", PopupBridge(), func(c *gin.Context) {
		ArmPopup(c)
		c.Redirect(http.StatusFound, `/student_section/?a=1&b="</script>`)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "window.opener.location.href")
	assert.Contains(t, body, "window.close()")
	assert.NotContains(t, body, `"</script>`)
	assert.Equal(t, 1, strings.Count(body, "</html>"))
}

func TestPopupBridge_PassesThroughWhenNotArmed(t *testing.T) {
	r := gin.New()
	r.GET("/cb", PopupBridge(), func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/doctor_section/")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/doctor_section/", rec.Header().Get("Location"))
}

func TestPopupBridge_IgnoresNonRedirects(t *testing.T) {
	r := gin.New()
	r.GET("/cb", PopupBridge(), func(c *gin.Context) {
		ArmPopup(c)
		c.String(http.StatusBadRequest, "bad")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad", rec.Body.String())
}

func stateRestoreEngine(store *pending.Store) *gin.Engine {
	r := gin.New()
	fail := func(c *gin.Context, status int, err error) { c.String(status, "fail") }
	r.GET("/cb", StateRestore(store, fail), func(c *gin.Context) {
		p, err := store.Consume(c.Request.Context(), c.Writer, c.Request, c.Query("state"))
		if err != nil {
			c.String(http.StatusConflict, "consume")
			return
		}
		c.String(http.StatusOK, p.Next)
	})
	return r
}

func TestStateRestore(t *testing.T) {
	repo := pending.NewMemoryRepository()
	store := pending.NewStore(repo, []byte(strings.Repeat("s", 32)), time.Minute, false)
	r := stateRestoreEngine(store)

	initRec := httptest.NewRecorder()
	stateID, err := store.Initiate(context.Background(), initRec, httptest.NewRequest(http.MethodGet, "/start", nil), pending.Payload{
		Provider: "microsoft",
		Next:     "/student_section/",
	})
	require.NoError(t, err)

	// No cookie at all: durable copy is spliced in.
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb?state="+stateID, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/student_section/", rec.Body.String())

	// Consumed: nothing left to restore.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb?state="+stateID, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "fail", rec.Body.String())
}

func TestStateRestore_CookiePresentSkipsLookup(t *testing.T) {
	repo := pending.NewMemoryRepository()
	store := pending.NewStore(repo, []byte(strings.Repeat("s", 32)), time.Minute, false)
	r := stateRestoreEngine(store)

	initRec := httptest.NewRecorder()
	stateID, err := store.Initiate(context.Background(), initRec, httptest.NewRequest(http.MethodGet, "/start", nil), pending.Payload{
		Provider: "oidc",
		Next:     "/staff_section/",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/cb?state="+stateID, nil)
	for _, c := range initRec.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/staff_section/", rec.Body.String())
}

func TestStateRestore_NoStateParamPassesThrough(t *testing.T) {
	store := pending.NewStore(pending.NewMemoryRepository(), []byte(strings.Repeat("s", 32)), time.Minute, false)
	rec := httptest.NewRecorder()
	stateRestoreEngine(store).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
