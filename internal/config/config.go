package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Session backends
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
	SessionBackendMemory   = "memory"
)

// minSecretLength はJWT署名鍵の最小バイト長。
const minSecretLength = 32

// placeholderSecrets は本番で使ってはならない既知のデフォルト値。
var placeholderSecrets = []string{
	"your-secret-key-change-in-production",
	"change-me",
	"changeme",
	"secret",
	"jwt-secret",
	"your-secret-key",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL         string // セッションテーブルを持つ自前のDB
	IdentityDatabaseURL string // 外部IDストア（読み取り専用）

	// External schema
	IdentitySchemaFile string
	Schema             ExternalSchema

	// Token
	JWTSecret string
	JWTIssuer string

	// Session
	SessionTTL           time.Duration
	SessionBackend       string
	RedisURL             string
	SessionSweepInterval time.Duration

	// Entitlement
	ExternalQueryTimeout time.Duration
	PlanAmountMonths     map[int64]int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitLogin   int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	// TrustProxyHeaders がtrueのときはX-Forwarded-For等からクライアントIPを取る。
	// リバースプロキシ配下でのみ有効にする。
	TrustProxyHeaders bool

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や、署名鍵がプレースホルダーの場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := ValidateSecret(cfg.JWTSecret); err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.IdentityDatabaseURL = getEnvString("IDENTITY_DATABASE_URL", cfg.DatabaseURL)
	cfg.IdentitySchemaFile = getEnvString("IDENTITY_SCHEMA_FILE", "")
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "chatgate")
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", SessionBackendPostgres))
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.SessionSweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour)
	cfg.ExternalQueryTimeout = getEnvDuration("EXTERNAL_QUERY_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.SessionBackend {
	case SessionBackendPostgres, SessionBackendRedis, SessionBackendMemory:
	default:
		return nil, fmt.Errorf("config_error: unsupported SESSION_BACKEND %q", cfg.SessionBackend)
	}

	amounts, err := ParsePlanAmounts(getEnvString("PLAN_AMOUNT_MONTHS", "7999:3,14999:6"))
	if err != nil {
		return nil, err
	}
	cfg.PlanAmountMonths = amounts

	schema, err := LoadSchema(cfg.IdentitySchemaFile)
	if err != nil {
		return nil, err
	}
	applySchemaEnvOverrides(&schema)
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	cfg.Schema = schema

	return cfg, nil
}

// ValidateSecret は署名鍵が未設定・プレースホルダー・短すぎないかを検証する。
func ValidateSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("config_error: JWT secret is not set")
	}
	normalized := strings.ToLower(strings.TrimSpace(secret))
	for _, p := range placeholderSecrets {
		if normalized == p {
			return fmt.Errorf("config_error: JWT secret is a placeholder value")
		}
	}
	if len(secret) < minSecretLength {
		return fmt.Errorf("config_error: JWT secret must be at least %d bytes", minSecretLength)
	}
	return nil
}

// ParsePlanAmounts は "7999:3,14999:6" 形式の金額→月数テーブルを解析する。
func ParsePlanAmounts(s string) (map[int64]int, error) {
	table := make(map[int64]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		amountStr, monthsStr, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("config_error: invalid PLAN_AMOUNT_MONTHS entry %q", pair)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(amountStr), 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("config_error: invalid amount in PLAN_AMOUNT_MONTHS entry %q", pair)
		}
		months, err := strconv.Atoi(strings.TrimSpace(monthsStr))
		if err != nil || months <= 0 {
			return nil, fmt.Errorf("config_error: invalid months in PLAN_AMOUNT_MONTHS entry %q", pair)
		}
		table[amount] = months
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("config_error: PLAN_AMOUNT_MONTHS is empty")
	}
	return table, nil
}

// FormatPlanAmounts はログ出力用に金額テーブルを整形する。
func FormatPlanAmounts(table map[int64]int) string {
	amounts := make([]int64, 0, len(table))
	for a := range table {
		amounts = append(amounts, a)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	parts := make([]string, 0, len(amounts))
	for _, a := range amounts {
		parts = append(parts, fmt.Sprintf("%d:%d", a, table[a]))
	}
	return strings.Join(parts, ",")
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
