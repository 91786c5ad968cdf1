// Package redirect decides whether a caller-supplied return URL may be
// followed after sign-in.
package redirect

import (
	"net/url"
	"path"
	"strings"
)

// Paths that belong to the sign-in flow itself. Sending the browser back into
// any of them after login would loop.
var flowRoots = []string{
	"/login",
	"/provider",
	"/auth",
	"/accounts/connections",
	"/accounts/3rdparty",
	"/accounts/socialaccount",
	"/accounts/microsoft",
}

var flowFragments = []string{"3rdparty", "socialaccount"}

type Validator struct {
	roots []string
}

// NewValidator builds a validator that also rejects the given paths, usually
// the login page and the central post-login route.
func NewValidator(extra ...string) *Validator {
	roots := append([]string{}, flowRoots...)
	for _, p := range extra {
		if p = cleanPath(p); p != "/" {
			roots = append(roots, p)
		}
	}
	return &Validator{roots: roots}
}

// Validate returns the parsed target if candidate is safe to redirect to from
// a request served on requestHost over requestScheme.
func (v *Validator) Validate(candidate, requestHost, requestScheme string) (*url.URL, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" || strings.ContainsAny(candidate, "\\") || hasControl(candidate) {
		return nil, false
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Opaque != "" || u.User != nil {
		return nil, false
	}

	if !allowedHostAndScheme(u, requestHost, requestScheme) {
		return nil, false
	}

	p := cleanPath(u.Path)
	if strings.HasSuffix(u.Path, "/login/") || strings.HasSuffix(p, "/login") {
		return nil, false
	}
	for _, root := range v.roots {
		if p == root || strings.HasPrefix(p, root+"/") {
			return nil, false
		}
	}
	for _, frag := range flowFragments {
		if strings.Contains(p, frag) {
			return nil, false
		}
	}

	return u, true
}

func allowedHostAndScheme(u *url.URL, requestHost, requestScheme string) bool {
	switch strings.ToLower(u.Scheme) {
	case "":
	case "http":
		if strings.EqualFold(requestScheme, "https") {
			return false
		}
	case "https":
	default:
		return false
	}

	if u.Scheme != "" && u.Host == "" {
		return false
	}

	if u.Host != "" && !strings.EqualFold(u.Host, requestHost) {
		return false
	}

	return true
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
