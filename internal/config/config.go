package config

import (
	"encoding/pem"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/pagegate/internal/model"
)

const (
	// MaxSessionLifetime はセッションCookieの最大有効期間（5日）。
	// これを超える期間での発行は行わない。
	MaxSessionLifetime = 5 * 24 * time.Hour

	// MinSessionLifetime はIdPが受け付けるセッションCookieの最小有効期間。
	MinSessionLifetime = 5 * time.Minute
)

// DefaultProtectedPages は認証必須ページの既定の許可リスト。
var DefaultProtectedPages = []string{
	"dashboard", "apps", "tutorials", "html", "css",
	"javascript", "python", "cpp", "mysql", "profile",
	"news", "certificate", "account",
}

var pageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Firebase（サービスアカウント）
	FirebaseProjectID   string
	FirebaseClientEmail string
	FirebasePrivateKey  string // PEM。エスケープされた\nは改行に正規化済み

	// Session
	SessionMaxAge time.Duration
	CheckRevoked  bool

	// Pages
	PublicDir      string
	PrivateDir     string
	ProtectedPages []string

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitLogin   int

	// Identity provider
	IdPTimeout     time.Duration
	InitMaxBackoff time.Duration

	// Server
	Environment string
	ServerPort  string

	// Cookie
	CookieSecure bool

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// IsProduction は本番環境で起動しているかを返す。
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はmodel.ErrConfigurationFatalをラップしたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	if cfg.FirebaseProjectID == "" {
		missing = append(missing, "FIREBASE_PROJECT_ID")
	}

	cfg.FirebaseClientEmail = os.Getenv("FIREBASE_CLIENT_EMAIL")
	if cfg.FirebaseClientEmail == "" {
		missing = append(missing, "FIREBASE_CLIENT_EMAIL")
	}

	cfg.FirebasePrivateKey = NormalizePrivateKey(os.Getenv("FIREBASE_PRIVATE_KEY"))
	if cfg.FirebasePrivateKey == "" {
		missing = append(missing, "FIREBASE_PRIVATE_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: required environment variables are not set: %v", model.ErrConfigurationFatal, missing)
	}

	if block, _ := pem.Decode([]byte(cfg.FirebasePrivateKey)); block == nil {
		return nil, fmt.Errorf("%w: FIREBASE_PRIVATE_KEY is not a PEM encoded key", model.ErrConfigurationFatal)
	}

	// Optional fields with defaults
	cfg.Environment = getEnvString("APP_ENV", "development")
	cfg.SessionMaxAge = getEnvDuration("SESSION_MAX_AGE", MaxSessionLifetime)
	cfg.CheckRevoked = getEnvBool("CHECK_REVOKED", true)
	cfg.PublicDir = getEnvString("PUBLIC_DIR", "public")
	cfg.PrivateDir = getEnvString("PRIVATE_DIR", "private-views")
	cfg.ProtectedPages = getEnvList("PROTECTED_PAGES", DefaultProtectedPages)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.IdPTimeout = getEnvDuration("IDP_TIMEOUT", 10*time.Second)
	cfg.InitMaxBackoff = getEnvDuration("INIT_MAX_BACKOFF", time.Minute)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = cfg.IsProduction()
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.SessionMaxAge < MinSessionLifetime || cfg.SessionMaxAge > MaxSessionLifetime {
		return nil, fmt.Errorf("%w: SESSION_MAX_AGE must be between %s and %s, got %s",
			model.ErrConfigurationFatal, MinSessionLifetime, MaxSessionLifetime, cfg.SessionMaxAge)
	}

	for _, name := range cfg.ProtectedPages {
		if !pageNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid protected page name %q", model.ErrConfigurationFatal, name)
		}
	}

	return cfg, nil
}

// NormalizePrivateKey は環境変数経由で渡された秘密鍵の"\n"エスケープを改行に戻す。
func NormalizePrivateKey(raw string) string {
	key := strings.ReplaceAll(raw, `\n`, "\n")
	key = strings.TrimSpace(key)
	return strings.TrimSpace(strings.Trim(key, `"`))
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を読み込む。空要素は無視する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
