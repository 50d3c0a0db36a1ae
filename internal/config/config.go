// Package config centraliza o carregamento de configurações da aplicação.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/domain"
	"github.com/subculture-collective/discord-spywatcher-sub002/internal/core/services"
)

type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Storage     StorageConfig
	RateLimiter RateLimiterConfig
	Quota       QuotaConfig
	Abuse       services.AbuseConfig
	Alerting    AlertingConfig
}

type ServerConfig struct {
	Port string
	// TrustProxy libera a leitura de X-Forwarded-For e X-Real-IP.
	TrustProxy      bool
	ShutdownTimeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Redis          RedisConfig
	CounterTimeout time.Duration
	BlockStore     BlockStoreConfig
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type BlockStoreConfig struct {
	Type        string
	SQLitePath  string
	PostgresDSN string
	Timeout     time.Duration
}

type RateLimiterConfig struct {
	Scopes []domain.RateLimitRule
	// LocalFallback liga o contador em memória quando o Redis falha.
	LocalFallback   bool
	JanitorInterval time.Duration
	TierCacheTTL    time.Duration
}

type QuotaConfig struct {
	Enabled bool
}

type AlertingConfig struct {
	WebhookURLs   []string
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	MinSeverity   domain.Severity
}

func Load() (Config, error) {
	_ = godotenv.Load()

	server, err := buildServerConfig()
	if err != nil {
		return Config{}, err
	}

	storage, err := buildStorageConfig()
	if err != nil {
		return Config{}, err
	}

	rateLimiter, err := buildRateLimiterConfig()
	if err != nil {
		return Config{}, err
	}

	quotaEnabled, err := getBool("QUOTA_ENABLED", true)
	if err != nil {
		return Config{}, err
	}

	abuse, err := buildAbuseConfig()
	if err != nil {
		return Config{}, err
	}

	alerting, err := buildAlertingConfig()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: server,
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
		Storage:     storage,
		RateLimiter: rateLimiter,
		Quota:       QuotaConfig{Enabled: quotaEnabled},
		Abuse:       abuse,
		Alerting:    alerting,
	}, nil
}

func buildServerConfig() (ServerConfig, error) {
	trustProxy, err := getBool("TRUST_PROXY", false)
	if err != nil {
		return ServerConfig{}, err
	}
	shutdown, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Port:            getEnv("SERVER_PORT", "8080"),
		TrustProxy:      trustProxy,
		ShutdownTimeout: shutdown,
	}, nil
}

func buildStorageConfig() (StorageConfig, error) {
	redisConfig, err := buildRedisConfig()
	if err != nil {
		return StorageConfig{}, err
	}
	counterTimeout, err := getDuration("COUNTER_STORE_TIMEOUT", 250*time.Millisecond)
	if err != nil {
		return StorageConfig{}, err
	}
	blockTimeout, err := getDuration("BLOCK_STORE_TIMEOUT", 2*time.Second)
	if err != nil {
		return StorageConfig{}, err
	}

	blockStore := BlockStoreConfig{
		Type:        strings.ToLower(getEnv("BLOCK_STORE", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "admission.db"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		Timeout:     blockTimeout,
	}
	switch blockStore.Type {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(blockStore.PostgresDSN) == "" {
			return StorageConfig{}, fmt.Errorf("POSTGRES_DSN is required when BLOCK_STORE=postgres")
		}
	default:
		return StorageConfig{}, fmt.Errorf("unsupported BLOCK_STORE: %s", blockStore.Type)
	}

	return StorageConfig{
		Redis:          redisConfig,
		CounterTimeout: counterTimeout,
		BlockStore:     blockStore,
	}, nil
}

func buildRedisConfig() (RedisConfig, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port, err := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_PORT: %w", err)
	}
	db, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return RedisConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	return RedisConfig{
		Host:     host,
		Port:     port,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
	}, nil
}

func buildRateLimiterConfig() (RateLimiterConfig, error) {
	scopes, err := buildScopeOverrides(services.DefaultScopes())
	if err != nil {
		return RateLimiterConfig{}, err
	}
	fallback, err := getBool("RATE_LIMIT_LOCAL_FALLBACK", true)
	if err != nil {
		return RateLimiterConfig{}, err
	}
	janitor, err := getDuration("RATE_LIMIT_JANITOR_INTERVAL", time.Minute)
	if err != nil {
		return RateLimiterConfig{}, err
	}
	tierTTL, err := getDuration("TIER_CACHE_TTL", services.DefaultTierCacheTTL)
	if err != nil {
		return RateLimiterConfig{}, err
	}

	return RateLimiterConfig{
		Scopes:          scopes,
		LocalFallback:   fallback,
		JanitorInterval: janitor,
		TierCacheTTL:    tierTTL,
	}, nil
}

// buildScopeOverrides aplica RATE_LIMIT_SCOPES sobre os escopos padrão, no
// formato SCOPE:REQUESTS:WINDOW_SECONDS separado por vírgulas. Escopos novos
// são acrescentados ao fim; em escopos dinâmicos só a janela muda.
func buildScopeOverrides(defaults []domain.RateLimitRule) ([]domain.RateLimitRule, error) {
	raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_SCOPES"))
	if raw == "" {
		return defaults, nil
	}

	index := make(map[string]int, len(defaults))
	for i, rule := range defaults {
		index[rule.Scope] = i
	}

	scopes := defaults
	for _, item := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("scope override must follow SCOPE:REQUESTS:WINDOW_SECONDS: %s", item)
		}

		scope := strings.TrimSpace(parts[0])
		requests, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid requests for scope %s: %w", scope, err)
		}
		windowSeconds, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid window seconds for scope %s: %w", scope, err)
		}
		if windowSeconds <= 0 {
			return nil, fmt.Errorf("window seconds for scope %s must be positive", scope)
		}
		window := time.Duration(windowSeconds) * time.Second

		i, ok := index[scope]
		if !ok {
			if requests <= 0 {
				return nil, fmt.Errorf("requests for scope %s must be positive", scope)
			}
			index[scope] = len(scopes)
			scopes = append(scopes, domain.RateLimitRule{Scope: scope, Requests: requests, Window: window})
			continue
		}

		scopes[i].Window = window
		if !scopes[i].Dynamic {
			if requests <= 0 {
				return nil, fmt.Errorf("requests for scope %s must be positive", scope)
			}
			scopes[i].Requests = requests
		}
	}

	return scopes, nil
}

func buildAbuseConfig() (services.AbuseConfig, error) {
	cfg := services.DefaultAbuseConfig()

	var err error
	if cfg.ViolationThreshold, err = getInt64("ABUSE_VIOLATION_THRESHOLD", cfg.ViolationThreshold); err != nil {
		return cfg, err
	}
	if cfg.ViolationWindow, err = getDuration("ABUSE_VIOLATION_WINDOW", cfg.ViolationWindow); err != nil {
		return cfg, err
	}
	if cfg.AutoBlockDuration, err = getDuration("ABUSE_AUTO_BLOCK_DURATION", cfg.AutoBlockDuration); err != nil {
		return cfg, err
	}
	if cfg.LoginFailureThreshold, err = getInt64("ABUSE_LOGIN_FAILURE_THRESHOLD", cfg.LoginFailureThreshold); err != nil {
		return cfg, err
	}
	if cfg.LoginFailureWindow, err = getDuration("ABUSE_LOGIN_FAILURE_WINDOW", cfg.LoginFailureWindow); err != nil {
		return cfg, err
	}
	if cfg.ForbiddenThreshold, err = getInt64("ABUSE_FORBIDDEN_THRESHOLD", cfg.ForbiddenThreshold); err != nil {
		return cfg, err
	}
	if cfg.ForbiddenWindow, err = getDuration("ABUSE_FORBIDDEN_WINDOW", cfg.ForbiddenWindow); err != nil {
		return cfg, err
	}
	if cfg.IPBlockingEnabled, err = getBool("ABUSE_IP_BLOCKING_ENABLED", cfg.IPBlockingEnabled); err != nil {
		return cfg, err
	}
	cfg.LoginPathPrefix = getEnv("ABUSE_LOGIN_PATH_PREFIX", cfg.LoginPathPrefix)
	return cfg, nil
}

func buildAlertingConfig() (AlertingConfig, error) {
	var urls []string
	for _, u := range strings.Split(os.Getenv("ALERT_WEBHOOK_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	ratePerSecond, err := strconv.ParseFloat(getEnv("ALERT_WEBHOOK_RATE_PER_SECOND", "1"), 64)
	if err != nil {
		return AlertingConfig{}, fmt.Errorf("invalid ALERT_WEBHOOK_RATE_PER_SECOND: %w", err)
	}
	burst, err := strconv.Atoi(getEnv("ALERT_WEBHOOK_BURST", "5"))
	if err != nil {
		return AlertingConfig{}, fmt.Errorf("invalid ALERT_WEBHOOK_BURST: %w", err)
	}
	timeout, err := getDuration("ALERT_WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return AlertingConfig{}, err
	}

	minSeverity := domain.Severity(strings.ToUpper(os.Getenv("ALERT_MIN_SEVERITY")))
	switch minSeverity {
	case "", domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
	default:
		return AlertingConfig{}, fmt.Errorf("invalid ALERT_MIN_SEVERITY: %s", minSeverity)
	}

	return AlertingConfig{
		WebhookURLs:   urls,
		RatePerSecond: ratePerSecond,
		Burst:         burst,
		Timeout:       timeout,
		MinSeverity:   minSeverity,
	}, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// getDuration aceita o formato de time.ParseDuration ("250ms", "1h").
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
