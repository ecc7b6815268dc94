package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderModeLive = "live"
	ProviderModeFake = "fake"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config holds runtime configuration for the licensing service.
type Config struct {
	Env      string
	HTTPAddr string

	DatabaseDriver string
	DatabaseDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers            []string
	KafkaGroupID            string
	KafkaTopicLicenseEvents string
	KafkaTopicRelaySignals  string
	KafkaTopicExecReports   string

	JWTSecret string

	ProviderMode      string
	FakeProviderSeed  int64
	ExnessBaseURL     string
	ExnessTokens      []string
	PUPrimeBaseURL    string
	PUPrimeAPIKey     string
	PUPrimeAPISecret  string
	HyperWSURL        string
	HyperAPIURL       string
	HyperWatchlistKey string
	ProviderTimeout   time.Duration

	CacheBackend string
	CacheTTL     time.Duration

	Licensing Licensing
	Schedule  Schedule
	Retention Retention
}

// Licensing holds the thresholds that drive enforcement.
type Licensing struct {
	InactivityThresholdDays int
	WarningThresholdDays    int
	LookbackDays            int
	SweepUserDelay          time.Duration
	SweepLockTTL            time.Duration
}

// Schedule holds cron expressions for each enforcement pass.
type Schedule struct {
	ActivitySweep string
	WarningSweep  string
	AutoRevoke    string
	Retention     string
}

// Retention holds the age limits applied by the retention pass.
type Retention struct {
	ActivityDays     int
	NotificationDays int
	AuditDays        int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("HTTP_ADDR", ":8080")

	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=licensing port=5432 sslmode=disable")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "licensing")
	v.SetDefault("KAFKA_TOPIC_LICENSE_EVENTS", "license_events")
	v.SetDefault("KAFKA_TOPIC_RELAY_SIGNALS", "relay_signals")
	v.SetDefault("KAFKA_TOPIC_EXECUTION_REPORTS", "")

	v.SetDefault("JWT_SECRET", "")

	v.SetDefault("BROKER_PROVIDER_MODE", ProviderModeLive)
	v.SetDefault("FAKE_PROVIDER_SEED", 1)
	v.SetDefault("EXNESS_API_BASE_URL", "https://my.exaffiliate.com/api/schema")
	v.SetDefault("EXNESS_JWT_TOKENS", "")
	v.SetDefault("PUPRIME_API_BASE_URL", "https://partner.puprime.com/api/v1")
	v.SetDefault("PUPRIME_API_KEY", "")
	v.SetDefault("PUPRIME_API_SECRET", "")
	v.SetDefault("HYPERLIQUID_WS_URL", "wss://api.hyperliquid.xyz/ws")
	v.SetDefault("HYPERLIQUID_API_URL", "https://api.hyperliquid.xyz")
	v.SetDefault("HYPERLIQUID_WATCHLIST_KEY", "licensing:hyperliquid:accounts")
	v.SetDefault("PROVIDER_TIMEOUT", 30*time.Second)

	v.SetDefault("ACTIVITY_CACHE_BACKEND", CacheBackendMemory)
	v.SetDefault("ACTIVITY_CACHE_TTL", 5*time.Minute)

	v.SetDefault("INACTIVITY_THRESHOLD_DAYS", 7)
	v.SetDefault("WARNING_THRESHOLD_DAYS", 6)
	v.SetDefault("ACTIVITY_LOOKBACK_DAYS", 7)
	v.SetDefault("SWEEP_USER_DELAY", 2*time.Second)
	v.SetDefault("SWEEP_LOCK_TTL", time.Hour)

	v.SetDefault("SCHEDULE_ACTIVITY_SWEEP", "0 */6 * * *")
	v.SetDefault("SCHEDULE_WARNING_SWEEP", "0 * * * *")
	v.SetDefault("SCHEDULE_AUTO_REVOKE", "0 3 * * *")
	v.SetDefault("SCHEDULE_RETENTION", "0 2 * * *")

	v.SetDefault("RETENTION_ACTIVITY_DAYS", 90)
	v.SetDefault("RETENTION_NOTIFICATION_DAYS", 30)
	v.SetDefault("RETENTION_AUDIT_DAYS", 180)
}

// splitCSV splits a comma separated value, trimming blanks.
func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

// LoadConfig loads configuration from an optional .env file and the environment.
// Environment variables take precedence over the file.
func LoadConfig() (Config, error) {
	v := viper.New()
	setDefaults(v)
	if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read .env: %w", err)
		}
	}
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:      v.GetString("APP_ENV"),
		HTTPAddr: v.GetString("HTTP_ADDR"),

		DatabaseDriver: v.GetString("DATABASE_DRIVER"),
		DatabaseDSN:    v.GetString("DATABASE_DSN"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		KafkaBrokers:            splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaGroupID:            v.GetString("KAFKA_GROUP_ID"),
		KafkaTopicLicenseEvents: v.GetString("KAFKA_TOPIC_LICENSE_EVENTS"),
		KafkaTopicRelaySignals:  v.GetString("KAFKA_TOPIC_RELAY_SIGNALS"),
		KafkaTopicExecReports:   v.GetString("KAFKA_TOPIC_EXECUTION_REPORTS"),

		JWTSecret: v.GetString("JWT_SECRET"),

		ProviderMode:      strings.ToLower(v.GetString("BROKER_PROVIDER_MODE")),
		FakeProviderSeed:  v.GetInt64("FAKE_PROVIDER_SEED"),
		ExnessBaseURL:     strings.TrimRight(v.GetString("EXNESS_API_BASE_URL"), "/"),
		ExnessTokens:      splitCSV(v.GetString("EXNESS_JWT_TOKENS")),
		PUPrimeBaseURL:    strings.TrimRight(v.GetString("PUPRIME_API_BASE_URL"), "/"),
		PUPrimeAPIKey:     v.GetString("PUPRIME_API_KEY"),
		PUPrimeAPISecret:  v.GetString("PUPRIME_API_SECRET"),
		HyperWSURL:        v.GetString("HYPERLIQUID_WS_URL"),
		HyperAPIURL:       strings.TrimRight(v.GetString("HYPERLIQUID_API_URL"), "/"),
		HyperWatchlistKey: v.GetString("HYPERLIQUID_WATCHLIST_KEY"),
		ProviderTimeout:   v.GetDuration("PROVIDER_TIMEOUT"),

		CacheBackend: strings.ToLower(v.GetString("ACTIVITY_CACHE_BACKEND")),
		CacheTTL:     v.GetDuration("ACTIVITY_CACHE_TTL"),

		Licensing: Licensing{
			InactivityThresholdDays: v.GetInt("INACTIVITY_THRESHOLD_DAYS"),
			WarningThresholdDays:    v.GetInt("WARNING_THRESHOLD_DAYS"),
			LookbackDays:            v.GetInt("ACTIVITY_LOOKBACK_DAYS"),
			SweepUserDelay:          v.GetDuration("SWEEP_USER_DELAY"),
			SweepLockTTL:            v.GetDuration("SWEEP_LOCK_TTL"),
		},
		Schedule: Schedule{
			ActivitySweep: v.GetString("SCHEDULE_ACTIVITY_SWEEP"),
			WarningSweep:  v.GetString("SCHEDULE_WARNING_SWEEP"),
			AutoRevoke:    v.GetString("SCHEDULE_AUTO_REVOKE"),
			Retention:     v.GetString("SCHEDULE_RETENTION"),
		},
		Retention: Retention{
			ActivityDays:     v.GetInt("RETENTION_ACTIVITY_DAYS"),
			NotificationDays: v.GetInt("RETENTION_NOTIFICATION_DAYS"),
			AuditDays:        v.GetInt("RETENTION_AUDIT_DAYS"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make enforcement unsafe.
func (c Config) Validate() error {
	switch c.ProviderMode {
	case ProviderModeLive, ProviderModeFake:
	default:
		return fmt.Errorf("invalid BROKER_PROVIDER_MODE %q", c.ProviderMode)
	}
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("invalid ACTIVITY_CACHE_BACKEND %q", c.CacheBackend)
	}
	l := c.Licensing
	if l.InactivityThresholdDays <= 0 {
		return fmt.Errorf("invalid INACTIVITY_THRESHOLD_DAYS: must be positive")
	}
	if l.WarningThresholdDays <= 0 || l.WarningThresholdDays >= l.InactivityThresholdDays {
		return fmt.Errorf("invalid WARNING_THRESHOLD_DAYS: must be positive and below the inactivity threshold")
	}
	if l.LookbackDays <= 0 {
		return fmt.Errorf("invalid ACTIVITY_LOOKBACK_DAYS: must be positive")
	}
	if l.SweepUserDelay < 0 {
		return fmt.Errorf("invalid SWEEP_USER_DELAY: must not be negative")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("invalid PROVIDER_TIMEOUT: must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("invalid ACTIVITY_CACHE_TTL: must be positive")
	}
	return nil
}

// Development reports whether the service runs in a local development setup.
func (c Config) Development() bool { return strings.EqualFold(c.Env, "development") }
