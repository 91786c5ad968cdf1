package session

import (
	"net/http"
	"time"
)

const (
	// CookieName needs Secure; InsecureCookieName is used for plain-http dev.
	CookieName         = "__Host-session"
	InsecureCookieName = "session"
)

// CookieOptions defines how session cookies are issued.
type CookieOptions struct {
	Path     string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
}

func (o CookieOptions) normalize() CookieOptions {
	if o.Path == "" {
		o.Path = "/" // required for __Host-
	}
	o.HttpOnly = true
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

func (o CookieOptions) name() string {
	if o.Secure {
		return CookieName
	}
	return InsecureCookieName
}

func (o CookieOptions) cookie(value string) *http.Cookie {
	o = o.normalize()
	return &http.Cookie{
		Name:     o.name(),
		Value:    value,
		Path:     o.Path,
		HttpOnly: o.HttpOnly,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
}

// SetCookie issues the session cookie to the client.
func SetCookie(w http.ResponseWriter, sessionID string, expiresAt time.Time, opts CookieOptions) {
	c := opts.cookie(sessionID)
	c.Expires = expiresAt
	http.SetCookie(w, c)
}

// ClearCookie removes the session cookie from the client.
func ClearCookie(w http.ResponseWriter, opts CookieOptions) {
	c := opts.cookie("")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// ReadCookie returns the session id carried by r, if any.
func ReadCookie(r *http.Request) (string, bool) {
	for _, name := range []string{CookieName, InsecureCookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}
