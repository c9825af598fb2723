package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Credit     CreditConfig
	Chat       ChatConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	CORSAllowedOrigins []string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MinConns       int32
	MigrationsPath string
	// StatementTimeout bounds every query on pooled connections; zero leaves
	// the server default.
	StatementTimeout time.Duration
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig with an empty URL disables notification and audit publishing.
type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	AccessSecret    string
	RefreshSecret   string
	AccessExpiry    time.Duration
	RefreshExpiry   time.Duration
	TwoFactorExpiry time.Duration
	VerificationTTL time.Duration
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	AuthRequestsPerMinute int
	ChatRequestsPerMinute int
}

// StreakMultiplier applies Multiplier once a daily streak reaches Days.
type StreakMultiplier struct {
	Days       int
	Multiplier decimal.Decimal
}

type CreditConfig struct {
	DailyBonusBase           decimal.Decimal
	DailyBonusValidity       time.Duration
	StreakMultipliers        []StreakMultiplier // sorted by Days ascending
	ReferralBonus            decimal.Decimal
	ReferralValidity         time.Duration
	ReferrerBonus            decimal.Decimal
	ExpireInterval           time.Duration
	DefaultDailySpendLimit   decimal.Decimal
	DefaultMonthlySpendLimit decimal.Decimal
}

type ChatConfig struct {
	CreditsPerMessage decimal.Decimal
	HistorySize       int
	HistoryTTL        time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Environment variables override .env
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:               k.String("server.host"),
			Port:               k.Int("server.port"),
			CORSAllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MinConns:       int32(k.Int("db.min.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
			PoolSize: k.Int("redis.pool.size"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret:  k.String("jwt.access.secret"),
			RefreshSecret: k.String("jwt.refresh.secret"),
		},
		Encryption: EncryptionConfig{
			Key: k.String("encryption.key"),
		},
		RateLimit: RateLimitConfig{
			AuthRequestsPerMinute: k.Int("ratelimit.auth.rpm"),
			ChatRequestsPerMinute: k.Int("ratelimit.chat.rpm"),
		},
		Chat: ChatConfig{
			HistorySize: k.Int("chat.history.size"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if len(cfg.Server.CORSAllowedOrigins) == 0 {
		cfg.Server.CORSAllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "learnhub"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "learnhub"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 20
	}
	if cfg.RateLimit.AuthRequestsPerMinute == 0 {
		cfg.RateLimit.AuthRequestsPerMinute = 20
	}
	if cfg.RateLimit.ChatRequestsPerMinute == 0 {
		cfg.RateLimit.ChatRequestsPerMinute = 30
	}
	if cfg.Chat.HistorySize == 0 {
		cfg.Chat.HistorySize = 50
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"jwt.access.expiry", "15m", &cfg.JWT.AccessExpiry},
		{"jwt.refresh.expiry", "168h", &cfg.JWT.RefreshExpiry},
		{"jwt.twofactor.expiry", "5m", &cfg.JWT.TwoFactorExpiry},
		{"jwt.verification.ttl", "24h", &cfg.JWT.VerificationTTL},
		{"credit.daily.bonus.validity", "720h", &cfg.Credit.DailyBonusValidity},
		{"credit.referral.validity", "1440h", &cfg.Credit.ReferralValidity},
		{"credit.expire.interval", "6h", &cfg.Credit.ExpireInterval},
		{"chat.history.ttl", "24h", &cfg.Chat.HistoryTTL},
		{"db.statement.timeout", "30s", &cfg.DB.StatementTimeout},
	}
	for _, d := range durations {
		v := k.String(d.key)
		if v == "" {
			v = d.def
		}
		*d.dest, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	// Parse credit amounts
	amounts := []struct {
		key  string
		def  string
		dest *decimal.Decimal
	}{
		{"credit.daily.bonus.base", "1", &cfg.Credit.DailyBonusBase},
		{"credit.referral.bonus", "10", &cfg.Credit.ReferralBonus},
		{"credit.referrer.bonus", "5", &cfg.Credit.ReferrerBonus},
		{"credit.daily.spend.limit", "0", &cfg.Credit.DefaultDailySpendLimit},
		{"credit.monthly.spend.limit", "0", &cfg.Credit.DefaultMonthlySpendLimit},
		{"chat.credits.per.message", "1", &cfg.Chat.CreditsPerMessage},
	}
	for _, a := range amounts {
		v := k.String(a.key)
		if v == "" {
			v = a.def
		}
		*a.dest, err = decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", a.key, err)
		}
	}

	streaks := k.String("credit.streak.multipliers")
	if streaks == "" {
		streaks = "7:1.5,14:2,30:3"
	}
	cfg.Credit.StreakMultipliers, err = ParseStreakMultipliers(streaks)
	if err != nil {
		return nil, fmt.Errorf("parsing credit streak multipliers: %w", err)
	}

	return cfg, nil
}

// ParseStreakMultipliers parses "days:multiplier" pairs separated by commas,
// e.g. "7:1.5,14:2,30:3".
func ParseStreakMultipliers(s string) ([]StreakMultiplier, error) {
	var out []StreakMultiplier
	for _, part := range splitList(s) {
		days, mult, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid entry %q: want days:multiplier", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid streak days %q", days)
		}
		m, err := decimal.NewFromString(strings.TrimSpace(mult))
		if err != nil {
			return nil, fmt.Errorf("invalid multiplier %q: %w", mult, err)
		}
		out = append(out, StreakMultiplier{Days: n, Multiplier: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
