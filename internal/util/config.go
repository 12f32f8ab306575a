package util

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour

	defaultAccessCookieName  = "access_token"
	defaultAccessCookiePath  = "/api"
	defaultRefreshCookieName = "refresh_token"
	defaultRefreshCookiePath = "/api/auth"
	defaultRefreshCookieSalt = "refresh-session"

	defaultEmailTokenTTL    = 3 * 24 * time.Hour
	defaultResetPasswordTTL = 24 * time.Hour
	defaultBcryptCost       = 12

	defaultMailQueue      = "tasks:email"
	defaultMailPollWait   = 5 * time.Second
	defaultSweepInterval  = time.Hour
	defaultRefreshRate    = 10
	defaultLoginRate      = 10
	defaultRateInterval   = 1 * time.Minute
	defaultRateBlockTime  = 5 * time.Minute
	defaultRedisKeyPrefix = "cookie_auth:"

	JWTAlgorithm = "HS256"
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
	CSRFEnabled     bool
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
		CSRFEnabled:     parseBoolOrDefault("CSRF_ENABLED", true),
	}
}

// TokenConfig holds the access token signing key and the lifetimes of both credentials.
type TokenConfig struct {
	JwtSecretKey []byte
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

func NewTokenConfig() *TokenConfig {
	secret := os.Getenv("AUTH_ACCESS_JWT_SIGNING_KEY")
	if secret == "" {
		log.Fatal("AUTH_ACCESS_JWT_SIGNING_KEY is not set")
	}
	return &TokenConfig{
		JwtSecretKey: []byte(secret),
		AccessTTL:    parseDurationOrDefault("AUTH_ACCESS_TTL", defaultAccessTTL),
		RefreshTTL:   parseDurationOrDefault("AUTH_REFRESH_TTL", defaultRefreshTTL),
	}
}

// CookieConfig describes names, scopes and signing material of both auth cookies.
// RefreshMaxAge is enforced when the signed refresh cookie is read back.
type CookieConfig struct {
	AccessName    string
	AccessPath    string
	RefreshName   string
	RefreshPath   string
	RefreshSalt   string
	RefreshMaxAge time.Duration
	SigningKey    []byte
	Secure        bool
	SameSite      http.SameSite
}

func NewCookieConfig(refreshTTL time.Duration) *CookieConfig {
	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		log.Fatal("SECRET_KEY is not set")
	}

	return &CookieConfig{
		AccessName:    getEnvOrDefault("AUTH_ACCESS_COOKIE_NAME", defaultAccessCookieName),
		AccessPath:    getEnvOrDefault("AUTH_ACCESS_COOKIE_SCOPE", defaultAccessCookiePath),
		RefreshName:   getEnvOrDefault("AUTH_REFRESH_COOKIE_NAME", defaultRefreshCookieName),
		RefreshPath:   getEnvOrDefault("AUTH_REFRESH_COOKIE_SCOPE", defaultRefreshCookiePath),
		RefreshSalt:   getEnvOrDefault("AUTH_REFRESH_COOKIE_SALT", defaultRefreshCookieSalt),
		RefreshMaxAge: refreshTTL,
		SigningKey:    []byte(secret),
		Secure:        parseBoolOrDefault("AUTH_COOKIE_SECURE", false),
		SameSite:      parseSameSite(os.Getenv("AUTH_COOKIE_SAMESITE")),
	}
}

type RateLimiterConfig struct {
	Limit     int
	Interval  time.Duration
	BlockTime time.Duration
}

// ThrottleConfig maps a throttle scope to its window.
type ThrottleConfig struct {
	KeyPrefix string
	Scopes    map[string]RateLimiterConfig
}

func NewThrottleConfig() *ThrottleConfig {
	blockTime := parseDurationOrDefault("RATE_LIMIT_BLOCK_TIME", defaultRateBlockTime)

	return &ThrottleConfig{
		KeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		Scopes: map[string]RateLimiterConfig{
			"check":            {Limit: 1, Interval: time.Second},
			"register":         {Limit: 30, Interval: time.Minute},
			"activate_account": {Limit: 5, Interval: time.Hour},
			"reset_password":   {Limit: 3, Interval: time.Hour},
			"refresh": {
				Limit:     parseIntOrDefault("RATE_LIMIT_REFRESH", defaultRefreshRate),
				Interval:  parseDurationOrDefault("RATE_LIMIT_INTERVAL", defaultRateInterval),
				BlockTime: blockTime,
			},
			"login": {
				Limit:     parseIntOrDefault("RATE_LIMIT_LOGIN", defaultLoginRate),
				Interval:  parseDurationOrDefault("RATE_LIMIT_INTERVAL", defaultRateInterval),
				BlockTime: blockTime,
			},
		},
	}
}

// AccountConfig configures registration, activation and password reset flows.
type AccountConfig struct {
	EmailTokenTTL            time.Duration
	ResetPasswordTTL         time.Duration
	BcryptCost               int
	FrontendDomain           string
	FrontendConfirmEmailURL  string
	FrontendResetPasswordURL string
}

func NewAccountConfig() *AccountConfig {
	return &AccountConfig{
		EmailTokenTTL:            parseDurationOrDefault("EMAIL_TOKEN_TTL", defaultEmailTokenTTL),
		ResetPasswordTTL:         parseDurationOrDefault("RESET_PASSWORD_TOKEN_TTL", defaultResetPasswordTTL),
		BcryptCost:               parseIntOrDefault("BCRYPT_COST", defaultBcryptCost),
		FrontendDomain:           os.Getenv("FRONTEND_DOMAIN_NAME"),
		FrontendConfirmEmailURL:  os.Getenv("FRONTEND_CONFIRM_EMAIL_URL"),
		FrontendResetPasswordURL: os.Getenv("FRONTEND_RESET_PASSWORD_URL"),
	}
}

// MailConfig configures the email task queue and the HTTP relay the worker delivers to.
type MailConfig struct {
	Queue         string
	PollWait      time.Duration
	RelayURL      string
	SweepInterval time.Duration
}

func NewMailConfig() *MailConfig {
	return &MailConfig{
		Queue:         getEnvOrDefault("MAIL_QUEUE", defaultMailQueue),
		PollWait:      parseDurationOrDefault("MAIL_POLL_WAIT", defaultMailPollWait),
		RelayURL:      os.Getenv("MAIL_RELAY_URL"),
		SweepInterval: parseDurationOrDefault("SESSION_SWEEP_INTERVAL", defaultSweepInterval),
	}
}

func getEnvOrDefault(varName, def string) string {
	if v := os.Getenv(varName); v != "" {
		return v
	}
	return def
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parseIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Printf("Invalid %s: %s, using default %d", varName, v, def)
	}
	return def
}

func parseBoolOrDefault(varName string, def bool) bool {
	if v := os.Getenv(varName); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Invalid %s: %s, using default %t", varName, v, def)
	}
	return def
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax", "":
		return http.SameSiteLaxMode
	default:
		log.Printf("Invalid AUTH_COOKIE_SAMESITE: %s, using lax", v)
		return http.SameSiteLaxMode
	}
}
