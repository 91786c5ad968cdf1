package app

import (
	"context"
	"errors"
	"net/http"

	"elogbook-sso/internal/account"
	"elogbook-sso/internal/admin"
	"elogbook-sso/internal/audit"
	"elogbook-sso/internal/auth/destination"
	"elogbook-sso/internal/auth/handler"
	"elogbook-sso/internal/auth/pending"
	"elogbook-sso/internal/auth/provider"
	"elogbook-sso/internal/auth/provider/microsoft"
	"elogbook-sso/internal/auth/provider/oidc"
	"elogbook-sso/internal/auth/redirect"
	"elogbook-sso/internal/auth/resolver"
	"elogbook-sso/internal/config"
	"elogbook-sso/internal/middleware"
	"elogbook-sso/internal/session"
	"elogbook-sso/internal/web"

	"github.com/gin-gonic/gin"
)

func setupProviders(ctx context.Context, cfg *config.Config) ([]provider.OAuthProvider, error) {
	var list []provider.OAuthProvider

	if cfg.MicrosoftClientID != "" {
		p, err := microsoft.New(ctx, microsoft.Config{
			TenantID:       cfg.MicrosoftTenantID,
			ClientID:       cfg.MicrosoftClientID,
			ClientSecret:   cfg.MicrosoftClientSecret,
			RedirectURL:    cfg.MicrosoftRedirectURL,
			AllowedTenants: cfg.AllowedTenants(),
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if cfg.OIDCIssuer != "" {
		p, err := oidc.New(ctx, oidc.Config{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if len(list) == 0 {
		return nil, errors.New("no oauth provider configured")
	}
	return list, nil
}

func linkerOptions(cfg *config.Config) (resolver.Options, error) {
	raw, err := config.ParseRoleMapping(cfg.RoleMapping)
	if err != nil {
		return resolver.Options{}, err
	}
	mapping, err := resolver.ParseRoleMapping(raw)
	if err != nil {
		return resolver.Options{}, err
	}
	newRole, err := account.ParseRole(cfg.NewAccountRole)
	if err != nil {
		return resolver.Options{}, err
	}
	return resolver.Options{
		RoleMapping:    mapping,
		RoleOverride:   cfg.RoleOverride,
		NewAccountRole: newRole,
	}, nil
}

func setupHTTP(ctx context.Context, cfg *config.Config) (*gin.Engine, func(context.Context) error, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Dependencies
	// ----------------------------

	sessionStore := session.NewRedisStore(infra.Redis.Client)
	revoker := session.NewRevoker(sessionStore)

	accounts := account.NewPostgresRepository(infra.DB)
	auditWriter := audit.NewWriter(audit.NewPostgresRepository(infra.DB), cfg.AuditBuffer)

	closeAll := func(ctx context.Context) error {
		return errors.Join(auditWriter.Close(ctx), infra.Close())
	}

	// fail releases everything opened so far when wiring stops half way.
	fail := func(err error) (*gin.Engine, func(context.Context) error, error) {
		_ = closeAll(ctx)
		return nil, nil, err
	}

	providers, err := setupProviders(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	registry := provider.NewRegistry(providers...)

	opts, err := linkerOptions(cfg)
	if err != nil {
		return fail(err)
	}

	validator := redirect.NewValidator("/login", "/post-login")
	router := destination.NewRouter(accounts, validator, cfg.DefaultRedirect, registry.AuthHosts())
	states := pending.NewStore(
		pending.NewPostgresRepository(infra.DB),
		[]byte(cfg.FlowCookieSecret),
		cfg.StateTTL(),
		cfg.CookieSecure,
	)
	authMiddleware := middleware.NewAuthMiddleware(sessionStore)

	authHandler := handler.NewHandler(handler.Deps{
		Providers:  registry,
		States:     states,
		Resolver:   resolver.NewLinker(accounts, revoker, auditWriter, opts),
		Sessions:   sessionStore,
		Router:     router,
		Validator:  validator,
		Auth:       authMiddleware,
		Cookie:     session.CookieOptions{Secure: cfg.CookieSecure, SameSite: http.SameSiteLaxMode},
		SessionTTL: cfg.SessionLifetime(),
	})
	adminHandler := admin.NewHandler(account.NewService(accounts, revoker, auditWriter))

	tmpl, err := web.Templates()
	if err != nil {
		return fail(err)
	}

	// ----------------------------
	// Router
	// ----------------------------

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.SetHTMLTemplate(tmpl)

	// ----------------------------
	// Public Routes
	// ----------------------------

	authHandler.RegisterRoutes(engine)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ----------------------------
	// Protected API Routes
	// ----------------------------

	api := engine.Group("/api")
	api.Use(middleware.GinRequireAuth(authMiddleware))

	api.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"account_id": c.GetString(middleware.AccountIDKey),
		})
	})

	// ----------------------------
	// Admin Routes
	// ----------------------------

	adminGroup := engine.Group("/admin")
	adminGroup.Use(
		middleware.GinRequireAuth(authMiddleware),
		middleware.RequireRole(accounts, account.RoleAdmin),
	)
	adminHandler.RegisterRoutes(adminGroup)

	return engine, closeAll, nil
}
