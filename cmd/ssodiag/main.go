// Command ssodiag prints the effective SSO configuration with secrets masked
// and checks that every provider redirect URL points at its callback route.
package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"elogbook-sso/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration invalid:", err)
		os.Exit(1)
	}

	masked := cfg.Masked()
	keys := make([]string, 0, len(masked))
	for k := range masked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-24s %s\n", k, masked[k])
	}

	problems := checkRedirects(cfg)
	if len(problems) == 0 {
		fmt.Println("\nredirect URLs: ok")
		return
	}

	fmt.Println("\nredirect URL problems:")
	for _, p := range problems {
		fmt.Println("  -", p)
	}
	os.Exit(1)
}

func checkRedirects(cfg *config.Config) []string {
	var problems []string
	if cfg.MicrosoftClientID != "" {
		if msg := checkRedirect("microsoft", cfg.MicrosoftRedirectURL, cfg.CookieSecure); msg != "" {
			problems = append(problems, msg)
		}
	}
	if cfg.OIDCIssuer != "" {
		if msg := checkRedirect("oidc", cfg.OIDCRedirectURL, cfg.CookieSecure); msg != "" {
			problems = append(problems, msg)
		}
	}
	return problems
}

// checkRedirect returns a description of what is wrong with raw, or "".
func checkRedirect(providerName, raw string, secure bool) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Sprintf("%s: %q is not an absolute URL", providerName, raw)
	}
	want := "/login/" + providerName + "/callback"
	if strings.TrimSuffix(u.Path, "/") != want {
		return fmt.Sprintf("%s: path is %q, expected %q", providerName, u.Path, want)
	}
	if secure && u.Scheme != "https" {
		return fmt.Sprintf("%s: COOKIE_SECURE is on but redirect uses %s", providerName, u.Scheme)
	}
	return ""
}
