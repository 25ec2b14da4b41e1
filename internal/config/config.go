package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minJWTSecretBytes = 32

type Options struct {
	LoadDotEnv bool
}

type Config struct {
	Port          string `env:"PORT" envDefault:"8080"`
	AppEnv        string `env:"APP_ENV" envDefault:"development"`
	ServiceName   string `env:"SERVICE_NAME" envDefault:"pettrack-auth"`
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL      string `env:"REDIS_URL,required,notEmpty"`
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`
	SentryDSN     string `env:"SENTRY_DSN"`
	OTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	CronSecret    string `env:"CRON_SECRET"`
	RunMigrations bool   `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"false"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"336h"`

	RateLimit    RateLimit    `envPrefix:"RATE_LIMIT_"`
	Verification Verification `envPrefix:"VERIFICATION_"`
	Database     Database     `envPrefix:"DB_"`
	Maintenance  Maintenance

	ProviderTimeout time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`
	Google          Provider      `envPrefix:"OAUTH_GOOGLE_"`
	Naver           Provider      `envPrefix:"OAUTH_NAVER_"`
	Kakao           Provider      `envPrefix:"OAUTH_KAKAO_"`
}

type RateLimit struct {
	Threshold     int           `env:"THRESHOLD" envDefault:"5"`
	Window        time.Duration `env:"WINDOW" envDefault:"1m"`
	BanDuration   time.Duration `env:"BAN_DURATION" envDefault:"10m"`
	EmailCooldown time.Duration `env:"EMAIL_COOLDOWN" envDefault:"1m"`
}

type Verification struct {
	CodeTTL time.Duration `env:"CODE_TTL" envDefault:"5m"`
	Sender  string        `env:"SENDER" envDefault:"no-reply@pettrack.app"`
}

type Database struct {
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"10m"`
}

type Maintenance struct {
	PendingRetention time.Duration `env:"PENDING_MEMBER_RETENTION" envDefault:"168h"`
	BatchSize        int           `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`
}

// Provider holds the OAuth client credentials for one social provider.
// Endpoint URLs fall back to the provider's public endpoints when unset.
type Provider struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
	AuthURL      string `env:"AUTH_URL"`
	TokenURL     string `env:"TOKEN_URL"`
	UserInfoURL  string `env:"USERINFO_URL"`
}

func (p Provider) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

func Load(options Options) (*Config, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Google = withDefaults(cfg.Google, Provider{
		AuthURL:     "https://accounts.google.com/o/oauth2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		UserInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	})
	cfg.Naver = withDefaults(cfg.Naver, Provider{
		AuthURL:     "https://nid.naver.com/oauth2.0/authorize",
		TokenURL:    "https://nid.naver.com/oauth2.0/token",
		UserInfoURL: "https://openapi.naver.com/v1/nid/me",
	})
	cfg.Kakao = withDefaults(cfg.Kakao, Provider{
		AuthURL:     "https://kauth.kakao.com/oauth/authorize",
		TokenURL:    "https://kauth.kakao.com/oauth/token",
		UserInfoURL: "https://kapi.kakao.com/v2/user/me",
	})

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || strings.EqualFold(c.AppEnv, "local")
}

func (c *Config) validate() error {
	var errs []error
	if len(c.JWTSecret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be positive"))
	}
	if c.RateLimit.Threshold <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_THRESHOLD must be positive"))
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.BanDuration <= 0 || c.RateLimit.EmailCooldown <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT durations must be positive"))
	}
	if c.Verification.CodeTTL <= 0 {
		errs = append(errs, errors.New("VERIFICATION_CODE_TTL must be positive"))
	}
	if c.Maintenance.BatchSize <= 0 {
		errs = append(errs, errors.New("CLEANUP_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func withDefaults(p Provider, defaults Provider) Provider {
	if strings.TrimSpace(p.AuthURL) == "" {
		p.AuthURL = defaults.AuthURL
	}
	if strings.TrimSpace(p.TokenURL) == "" {
		p.TokenURL = defaults.TokenURL
	}
	if strings.TrimSpace(p.UserInfoURL) == "" {
		p.UserInfoURL = defaults.UserInfoURL
	}
	return p
}
