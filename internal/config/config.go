package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

type Config struct {
	Env     string
	Port    int
	DBURL   string
	Storage string

	RunMigrations bool

	JWTSecret           string
	JWTAccessTTLMinutes int
	JWTRefreshTTLDays   int

	AdminEmail          string
	AdminUsername       string
	AdminPassword       string
	AdminName           string
	AdminBootstrapToken string

	CORSOrigins []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthRateLimit  int
	AuthRateWindow time.Duration

	OTLPEndpoint string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string

	ExpirySweepSchedule string

	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerHealthPort   int
}

func Load() Config {
	// .env is optional; real environments inject variables directly
	_ = godotenv.Load()

	return Config{
		Env:     getEnv("APP_ENV", "dev"),
		Port:    getEnvInt("PORT", 8080),
		DBURL:   getEnv("DATABASE_URL", buildDBURL()),
		Storage: strings.ToLower(getEnv("STORAGE", StorageBackendPostgres)),

		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTAccessTTLMinutes: getEnvInt("JWT_ACCESS_TTL_MINUTES", 15),
		JWTRefreshTTLDays:   getEnvInt("JWT_REFRESH_TTL_DAYS", 7),

		AdminEmail:          os.Getenv("ADMIN_EMAIL"),
		AdminUsername:       os.Getenv("ADMIN_USERNAME"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		AdminName:           getEnv("ADMIN_NAME", "Administrator"),
		AdminBootstrapToken: os.Getenv("ADMIN_BOOTSTRAP_TOKEN"),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AuthRateLimit:  getEnvInt("AUTH_RATE_LIMIT", 20),
		AuthRateWindow: time.Duration(getEnvInt("AUTH_RATE_WINDOW_SECONDS", 60)) * time.Second,

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: getEnvInt("SMTP_PORT", 587),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		MailFrom: getEnv("MAIL_FROM", os.Getenv("SMTP_USER")),

		ExpirySweepSchedule: getEnv("EXPIRY_SWEEP_SCHEDULE", "@every 5m"),

		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		WorkerHealthPort:   getEnvInt("WORKER_HEALTH_PORT", 8081),
	}
}

func (c Config) IsProd() bool {
	return c.Env == "prod" || c.Env == "production"
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshTTLDays) * 24 * time.Hour
}

func (c Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.MailFrom != ""
}

// Validate rejects configurations the API must not start with.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		if c.IsProd() {
			return errors.New("JWT_SECRET is required in production")
		}
	}
	if c.Storage != StorageBackendPostgres && c.Storage != StorageBackendMemory {
		return errors.New("STORAGE must be postgres or memory")
	}
	if c.JWTAccessTTLMinutes <= 0 || c.JWTRefreshTTLDays <= 0 {
		return errors.New("token ttls must be positive")
	}
	return nil
}

// SecretOrDev returns the signing secret, falling back to a fixed dev value
// outside production.
func (c Config) SecretOrDev() string {
	if c.JWTSecret != "" {
		return c.JWTSecret
	}
	slog.Warn("JWT_SECRET not set, using development secret")
	return "dev-secret-change-me"
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "truckmatch")
	pass := getEnv("DB_PASSWORD", "truckmatch")
	name := getEnv("DB_NAME", "truckmatch")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env value, using default", "key", key, "value", v)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env value, using default", "key", key, "value", v)
			return fallback
		}
		return b
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
