package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"pettrack-auth/internal/auth"
	"pettrack-auth/internal/config"
	"pettrack-auth/internal/db"
	"pettrack-auth/internal/identity"
	"pettrack-auth/internal/kv"
	"pettrack-auth/internal/mail"
	"pettrack-auth/internal/maintenance"
	"pettrack-auth/internal/member"
	"pettrack-auth/internal/observability"
	"pettrack-auth/internal/ratelimit"
	"pettrack-auth/internal/revocation"
	"pettrack-auth/internal/session"
	"pettrack-auth/internal/token"
	"pettrack-auth/internal/verification"
)

type Options struct {
	LoadDotEnv bool
	// ForceMigrations applies migrations even when RUN_MIGRATIONS_ON_STARTUP is off.
	ForceMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.IsDevelopment())

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.ServiceName); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.AppEnv)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, err
	}

	if options.ForceMigrations || cfg.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			_ = shutdownTracing(ctx)
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations_applied", map[string]any{"versions": applied})
		}
	}

	rdb, err := kv.Open(ctx, cfg.RedisURL)
	if err != nil {
		_ = database.Close()
		_ = shutdownTracing(ctx)
		return nil, err
	}

	metrics := observability.NewMetrics()
	handler, resolver := wire(cfg, database, rdb, logger, metrics)
	logger.Info("providers_enabled", map[string]any{"providers": resolver.Enabled()})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return errors.Join(
				shutdownTracing(context.Background()),
				rdb.Close(),
				database.Close(),
			)
		},
	}, nil
}

func wire(cfg *config.Config, database *sql.DB, rdb *redis.Client, logger *observability.Logger, metrics *observability.Metrics) (http.Handler, *identity.Resolver) {
	limiter := ratelimit.NewLimiter(rdb).
		WithPolicy(cfg.RateLimit.Threshold, cfg.RateLimit.Window, cfg.RateLimit.BanDuration).
		OnBan(func(ip string) {
			metrics.CountBan()
			logger.Warn("client_ip_banned", map[string]any{"ip": ip, "duration": cfg.RateLimit.BanDuration.String()})
		})

	tokens := token.NewService(cfg.JWTSecret).WithValidity(cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	revocations := revocation.NewStore(rdb)
	members := member.NewRepository(database)
	resolver := identity.NewResolver(providerClients(cfg)...)

	sessions := session.NewStore(rdb)

	authService := auth.NewService(auth.Dependencies{
		Gate:        limiter,
		Providers:   resolver,
		Directory:   members,
		Tokens:      tokens,
		Sessions:    sessions,
		Revocations: revocations,
		Logger:      logger,
		Metrics:     metrics,
	})

	verifier := verification.NewService(rdb, limiter, mail.NewLogMailer(logger), cfg.Verification.Sender).
		WithTimings(cfg.Verification.CodeTTL, cfg.RateLimit.EmailCooldown).
		OnSent(metrics.CountVerificationMail)

	handler := NewRouter(Routes{
		Auth:    auth.NewHandler(authService, verifier, logger),
		Members: member.NewHandler(members, sessions, logger),
		Gate:    limiter,
		Cleanup: maintenance.NewCleanupHandler(
			members,
			logger,
			cfg.CronSecret,
			cfg.Maintenance.PendingRetention,
			cfg.Maintenance.BatchSize,
		),
		Tokens:      tokens,
		Revocations: revocations,
		Logger:      logger,
		Metrics:     metrics,
		Checks: map[string]HealthCheck{
			"database": database.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})
	return handler, resolver
}

func providerClients(cfg *config.Config) []identity.Client {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	builders := []struct {
		provider config.Provider
		build    func(identity.Credentials, identity.Endpoints, *http.Client) *identity.OAuthClient
	}{
		{cfg.Google, identity.NewGoogle},
		{cfg.Naver, identity.NewNaver},
		{cfg.Kakao, identity.NewKakao},
	}

	var clients []identity.Client
	for _, b := range builders {
		if !b.provider.Enabled() {
			continue
		}
		clients = append(clients, b.build(
			identity.Credentials{
				ClientID:     b.provider.ClientID,
				ClientSecret: b.provider.ClientSecret,
				RedirectURL:  b.provider.RedirectURL,
			},
			identity.Endpoints{
				AuthURL:     b.provider.AuthURL,
				TokenURL:    b.provider.TokenURL,
				UserInfoURL: b.provider.UserInfoURL,
			},
			httpClient,
		))
	}
	return clients
}
