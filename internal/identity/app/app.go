package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumehq/identity/internal/identity/cache"
	httpapi "github.com/lumehq/identity/internal/identity/http"
	"github.com/lumehq/identity/internal/identity/provider"
	"github.com/lumehq/identity/internal/identity/service"
	"github.com/lumehq/identity/internal/identity/store"
	"github.com/lumehq/identity/internal/identity/store/drivers/sqlite"
	"github.com/lumehq/identity/pkg/cryptox"
	"github.com/lumehq/identity/pkg/jwtx"
	"github.com/lumehq/identity/pkg/slogx"
	"github.com/lumehq/identity/pkg/webauthnx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the identity core together.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db     store.Store
	cache  cache.Store
	memory *cache.Memory // non-nil only for the in-process driver

	sessionService      *service.SessionService
	loginService        *service.LoginService
	challengeService    *service.ChallengeService
	mfaService          *service.MFAService
	oauthService        *service.OAuthService
	resetService        *service.ResetService
	verificationService *service.VerificationService
	housekeeper         *service.Housekeeper

	server          *http.Server
	stopHousekeeper context.CancelFunc
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepper(cfg.Pepper)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	app.initCache()

	codec, err := jwtx.NewCodec(cfg.Issuer, cfg.TokenSeed)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	webauthnEngine, err := webauthnx.New(webauthnx.Config{
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
		RPDisplayName: cfg.RPDisplayName,
	})
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize webauthn engine: %w", err)
	}

	app.initServices(codec, webauthnEngine)
	app.initHTTP(codec)

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	hkCtx, cancel := context.WithCancel(slogx.WithContext(context.Background(), app.logger))
	app.stopHousekeeper = cancel
	go app.housekeeper.Run(hkCtx)

	app.logger.Info("identity service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, stops the sweeper and closes storage.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.stopHousekeeper != nil {
		app.stopHousekeeper()
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initCache() {
	if app.cfg.RedisAddr != "" {
		app.cache = cache.NewRedis(app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB)
		app.logger.Info("challenge cache: redis", "addr", app.cfg.RedisAddr)
		return
	}
	// Single-instance deployments only: challenges created here are not
	// visible to other nodes.
	app.memory = cache.NewMemory()
	app.cache = app.memory
	app.logger.Info("challenge cache: in-process memory")
}

func (app *Application) initServices(codec *jwtx.Codec, webauthnEngine *webauthnx.Engine) {
	app.sessionService = service.NewSessionService(app.db, codec, service.SessionConfig{
		AccessTTL:  app.cfg.AccessTokenTTL,
		SessionTTL: app.cfg.SessionTTL,
	})

	dispatcher := &service.LogDispatcher{IncludeCode: app.cfg.Env == "dev"}
	app.verificationService = service.NewVerificationService(app.db, dispatcher)

	app.challengeService = service.NewChallengeService(app.db, app.cache, app.sessionService, app.verificationService, webauthnEngine)
	app.loginService = service.NewLoginService(app.db, app.sessionService, app.challengeService, app.verificationService)
	app.mfaService = service.NewMFAService(app.db, webauthnEngine, app.cfg.Issuer)
	app.resetService = service.NewResetService(app.db, app.sessionService, app.verificationService)

	app.oauthService = service.NewOAuthService(app.db, app.buildProviderRegistry(), app.sessionService, service.OAuthConfig{
		StateKey:   app.stateKey(),
		SuccessURL: app.cfg.OAuthSuccessURL,
		ErrorURL:   app.cfg.OAuthErrorURL,
	})

	app.housekeeper = service.NewHousekeeper(app.db, app.memory, app.cfg.HousekeepingInterval)
}

// buildProviderRegistry registers every provider with configured
// credentials; the rest stay unknown to the registry and fail validation.
func (app *Application) buildProviderRegistry() *provider.Registry {
	redirect := func(name string) string {
		return fmt.Sprintf("%s/v1/oauth/%s/callback", app.cfg.PublicBaseURL, name)
	}

	var providers []provider.Provider
	if app.cfg.GoogleClientID != "" {
		providers = append(providers, provider.NewGoogle(provider.Credentials{
			ClientID: app.cfg.GoogleClientID, ClientSecret: app.cfg.GoogleSecret, RedirectURL: redirect("google"),
		}))
	}
	if app.cfg.MicrosoftClientID != "" {
		providers = append(providers, provider.NewMicrosoft(provider.Credentials{
			ClientID: app.cfg.MicrosoftClientID, ClientSecret: app.cfg.MicrosoftSecret, RedirectURL: redirect("microsoft"),
		}))
	}
	if app.cfg.FacebookClientID != "" {
		providers = append(providers, provider.NewFacebook(provider.Credentials{
			ClientID: app.cfg.FacebookClientID, ClientSecret: app.cfg.FacebookSecret, RedirectURL: redirect("facebook"),
		}))
	}
	if app.cfg.XClientID != "" {
		providers = append(providers, provider.NewX(provider.Credentials{
			ClientID: app.cfg.XClientID, ClientSecret: app.cfg.XSecret, RedirectURL: redirect("x"),
		}))
	}
	if app.cfg.AppleClientID != "" {
		providers = append(providers, provider.NewApple(provider.Credentials{
			ClientID: app.cfg.AppleClientID, ClientSecret: app.cfg.AppleSecret, RedirectURL: redirect("apple"),
		}))
	}
	return provider.NewRegistry(providers...)
}

// stateKey returns the configured HMAC key, or a boot-time random one.
// A generated key invalidates in-flight OAuth flows on restart, matching
// the ephemeral token-seed behavior.
func (app *Application) stateKey() []byte {
	if app.cfg.StateKey != "" {
		return []byte(app.cfg.StateKey)
	}
	return []byte(cryptox.MustGenerateToken(cryptox.TokenSize256))
}

func (app *Application) initHTTP(codec *jwtx.Codec) {
	router := httpapi.NewRouter(httpapi.Config{
		CookieName:   app.cfg.CookieName,
		CookieDomain: app.cfg.CookieDomain,
		CookieSecure: app.cfg.CookieSecure,
		CookieTTL:    app.cfg.SessionTTL,
	}, httpapi.Deps{
		Login:      app.loginService,
		Sessions:   app.sessionService,
		MFA:        app.mfaService,
		Challenges: app.challengeService,
		OAuth:      app.oauthService,
		Reset:      app.resetService,
		Verifier:   codec,
		Store:      app.db,
		Cache:      app.cache,
		Logger:     app.logger,
	})

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           slogx.HTTPMiddleware(app.logger)(router),
		ReadHeaderTimeout: 3 * time.Second,
	}
}
