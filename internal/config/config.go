// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort string `mapstructure:"APP_PORT"`

	DatabaseDSN   string `mapstructure:"DATABASE_DSN"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	MicrosoftClientID     string `mapstructure:"MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `mapstructure:"MICROSOFT_CLIENT_SECRET"`
	MicrosoftTenantID     string `mapstructure:"MICROSOFT_TENANT_ID"`
	MicrosoftRedirectURL  string `mapstructure:"MICROSOFT_REDIRECT_URL"`

	// Comma-separated tenant ids; required when MicrosoftTenantID is common,
	// organizations or consumers.
	MicrosoftAllowedTenants string `mapstructure:"MICROSOFT_ALLOWED_TENANTS"`

	// Generic OIDC provider; skipped when OIDCIssuer is empty.
	OIDCIssuer       string `mapstructure:"OIDC_ISSUER"`
	OIDCClientID     string `mapstructure:"OIDC_CLIENT_ID"`
	OIDCClientSecret string `mapstructure:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string `mapstructure:"OIDC_REDIRECT_URL"`

	// RoleMapping is "claimValue=role,claimValue=role".
	RoleMapping    string `mapstructure:"SSO_ROLE_MAPPING"`
	RoleOverride   bool   `mapstructure:"SSO_ROLE_OVERRIDE"`
	NewAccountRole string `mapstructure:"NEW_ACCOUNT_ROLE"`

	FlowCookieSecret string `mapstructure:"FLOW_COOKIE_SECRET"`
	PendingStateTTL  string `mapstructure:"PENDING_STATE_TTL"`
	SessionTTL       string `mapstructure:"SESSION_TTL"`
	CookieSecure     bool   `mapstructure:"COOKIE_SECURE"`
	DefaultRedirect  string `mapstructure:"DEFAULT_REDIRECT"`

	AuditBuffer int `mapstructure:"AUDIT_BUFFER"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then the environment. Env vars win.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MICROSOFT_CLIENT_ID", "")
	v.SetDefault("MICROSOFT_CLIENT_SECRET", "")
	v.SetDefault("MICROSOFT_TENANT_ID", "")
	v.SetDefault("MICROSOFT_REDIRECT_URL", "")
	v.SetDefault("MICROSOFT_ALLOWED_TENANTS", "")
	v.SetDefault("OIDC_ISSUER", "")
	v.SetDefault("OIDC_CLIENT_ID", "")
	v.SetDefault("OIDC_CLIENT_SECRET", "")
	v.SetDefault("OIDC_REDIRECT_URL", "")
	v.SetDefault("SSO_ROLE_MAPPING", "")
	v.SetDefault("SSO_ROLE_OVERRIDE", false)
	v.SetDefault("NEW_ACCOUNT_ROLE", "pending")
	v.SetDefault("FLOW_COOKIE_SECRET", "")
	v.SetDefault("PENDING_STATE_TTL", "10m")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("DEFAULT_REDIRECT", "/")
	v.SetDefault("AUDIT_BUFFER", 256)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks fields the service cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN must be set")
	}
	if len(c.FlowCookieSecret) < 32 {
		return errors.New("config: FLOW_COOKIE_SECRET must be at least 32 bytes")
	}
	if c.MicrosoftClientID == "" && c.OIDCIssuer == "" {
		return errors.New("config: at least one provider (MICROSOFT_CLIENT_ID or OIDC_ISSUER) must be configured")
	}
	if c.MicrosoftClientID != "" && c.MicrosoftRedirectURL == "" {
		return errors.New("config: MICROSOFT_REDIRECT_URL must be set with MICROSOFT_CLIENT_ID")
	}
	if c.MicrosoftClientID != "" {
		tenant := strings.ToLower(strings.TrimSpace(c.MicrosoftTenantID))
		switch tenant {
		case "":
			return errors.New("config: MICROSOFT_TENANT_ID must be set with MICROSOFT_CLIENT_ID")
		case "common", "organizations", "consumers":
			if len(c.AllowedTenants()) == 0 {
				return fmt.Errorf("config: MICROSOFT_ALLOWED_TENANTS must be set when MICROSOFT_TENANT_ID is %q", tenant)
			}
		}
	}
	if c.OIDCIssuer != "" && (c.OIDCClientID == "" || c.OIDCRedirectURL == "") {
		return errors.New("config: OIDC_CLIENT_ID and OIDC_REDIRECT_URL must be set with OIDC_ISSUER")
	}
	if strings.EqualFold(strings.TrimSpace(c.NewAccountRole), "admin") {
		return errors.New("config: NEW_ACCOUNT_ROLE must not be admin")
	}
	if _, err := ParseRoleMapping(c.RoleMapping); err != nil {
		return err
	}
	return nil
}

// AllowedTenants splits MicrosoftAllowedTenants, dropping blanks.
func (c *Config) AllowedTenants() []string {
	var out []string
	for _, t := range strings.Split(c.MicrosoftAllowedTenants, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// StateTTL parses PendingStateTTL. Returns 10m if unset or invalid.
func (c *Config) StateTTL() time.Duration {
	return parseDuration(c.PendingStateTTL, 10*time.Minute)
}

// SessionLifetime parses SessionTTL. Returns 24h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration {
	return parseDuration(c.SessionTTL, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseRoleMapping turns "a=student, b=staff" into a claim value -> role name
// map. Claim values are compared case-insensitively, so keys are lowered.
func ParseRoleMapping(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("config: invalid SSO_ROLE_MAPPING entry %q", pair)
		}
		out[strings.ToLower(k)] = strings.ToLower(v)
	}
	return out, nil
}

// Masked returns a printable view of the configuration with secrets hidden.
func (c *Config) Masked() map[string]string {
	return map[string]string{
		"APP_PORT":                  c.AppPort,
		"DATABASE_DSN":              mask(c.DatabaseDSN),
		"REDIS_ADDR":                c.RedisAddr,
		"REDIS_PASSWORD":            mask(c.RedisPassword),
		"MICROSOFT_CLIENT_ID":       c.MicrosoftClientID,
		"MICROSOFT_CLIENT_SECRET":   mask(c.MicrosoftClientSecret),
		"MICROSOFT_TENANT_ID":       c.MicrosoftTenantID,
		"MICROSOFT_REDIRECT_URL":    c.MicrosoftRedirectURL,
		"MICROSOFT_ALLOWED_TENANTS": c.MicrosoftAllowedTenants,
		"OIDC_ISSUER":               c.OIDCIssuer,
		"OIDC_CLIENT_ID":            c.OIDCClientID,
		"OIDC_CLIENT_SECRET":        mask(c.OIDCClientSecret),
		"OIDC_REDIRECT_URL":         c.OIDCRedirectURL,
		"SSO_ROLE_MAPPING":          c.RoleMapping,
		"SSO_ROLE_OVERRIDE":         fmt.Sprint(c.RoleOverride),
		"NEW_ACCOUNT_ROLE":          c.NewAccountRole,
		"FLOW_COOKIE_SECRET":        mask(c.FlowCookieSecret),
		"PENDING_STATE_TTL":         c.StateTTL().String(),
		"SESSION_TTL":               c.SessionLifetime().String(),
		"COOKIE_SECURE":             fmt.Sprint(c.CookieSecure),
		"DEFAULT_REDIRECT":          c.DefaultRedirect,
	}
}

func mask(s string) string {
	switch {
	case s == "":
		return "(unset)"
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + strings.Repeat("*", 6) + s[len(s)-2:]
	}
}
