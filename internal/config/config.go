// Package config loads the runtime configuration shared by every Fechatter
// core service binary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPointer is the environment variable that, when set, names an exact
// config file to load, bypassing the search path entirely.
const EnvPointer = "FECHATTER_CONFIG_FILE"

// Config is the full configuration surface named in spec.md §6. Individual
// binaries only read the sub-blocks relevant to them.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Security      SecurityConfig      `mapstructure:"security"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Search        SearchConfig        `mapstructure:"search"`
	Email         EmailConfig         `mapstructure:"email"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Consistency   ConsistencyConfig   `mapstructure:"consistency"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

type UpstreamConfig struct {
	Host string   `mapstructure:"host"`
	Port int      `mapstructure:"port"`
	URLs []string `mapstructure:"urls"`
}

type MessagingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BrokerURL  string `mapstructure:"broker_url"`
	StreamName string `mapstructure:"stream_name"`
}

type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MaxBytes   int64         `mapstructure:"max_bytes"`
}

type ObservabilityConfig struct {
	LogLevel string      `mapstructure:"log_level"`
	Metrics  MetricsCfg  `mapstructure:"metrics"`
	Health   HealthCfg   `mapstructure:"health_check"`
}

type MetricsCfg struct {
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

type HealthCfg struct {
	Path       string        `mapstructure:"path"`
	TimeoutMS  time.Duration `mapstructure:"timeout_ms"`
}

type SecurityConfig struct {
	Auth        AuthCfg        `mapstructure:"auth"`
	CORS        CORSCfg        `mapstructure:"cors"`
	RateLimiting RateLimitCfg  `mapstructure:"rate_limiting"`
}

type AuthCfg struct {
	Enabled bool   `mapstructure:"enabled"`
	Secret  string `mapstructure:"secret"`
}

type CORSCfg struct {
	Origins []string `mapstructure:"origins"`
	Methods []string `mapstructure:"methods"`
	Headers []string `mapstructure:"headers"`
}

type RateLimitCfg struct {
	RequestsPerMinute int `mapstructure:"rpm"`
	BurstSize         int `mapstructure:"burst"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type SearchConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	IndexName string `mapstructure:"index_name"`
}

type EmailConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SMTPHost      string        `mapstructure:"smtp_host"`
	SMTPPort      int           `mapstructure:"smtp_port"`
	SMTPUsername  string        `mapstructure:"smtp_username"`
	SMTPPassword  string        `mapstructure:"smtp_password"`
	UseTLS        bool          `mapstructure:"use_tls"`
	FromName      string        `mapstructure:"from_name"`
	From          string        `mapstructure:"from"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// AuditConfig governs C10's buffered audit stream: which severities flush
// immediately is fixed by AuditEvent.Severity (a pure function of event
// type), not configurable here — this block only tunes buffering,
// exclusion, and compliance enforcement, mirroring the Rust gateway's
// AuditConfig defaults.
type AuditConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BufferSize       int           `mapstructure:"buffer_size"`
	FlushIntervalSec time.Duration `mapstructure:"flush_interval_secs"`
	RetentionDays    int           `mapstructure:"retention_days"`
	ComplianceMode   bool          `mapstructure:"compliance_mode"`
	ExcludedPaths    []string      `mapstructure:"excluded_paths"`
}

// ConsistencyConfig governs C11's periodic risk-scan cadence and the
// partial-failure-rate thresholds that classify risk severity.
type ConsistencyConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	PartialFailureWarn   float64   `mapstructure:"partial_failure_warn_rate"`
	PartialFailureMedium float64   `mapstructure:"partial_failure_medium_rate"`
	PartialFailureHigh   float64   `mapstructure:"partial_failure_high_rate"`
}

// NotFoundError is returned when no config file was located anywhere in the
// search path (spec.md §6: "failure to locate yields a startup error
// listing searched paths").
type NotFoundError struct {
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("config: no config file found, searched: %v", e.Searched)
}

// Load resolves configuration with the priority env-pointer > search path >
// binary-relative fallback, as named in spec.md §6. A search-path miss
// returns an error listing every path that was tried.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FECHATTER")
	v.AutomaticEnv()

	searched, err := locate(v, serviceName)
	if err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: failed reading config file: %w", err)
		}
		return nil, &NotFoundError{Searched: searched}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal failed: %w", err)
	}
	return &cfg, nil
}

// locate implements the env-pointer-first, then-search-path resolution.
func locate(v *viper.Viper, serviceName string) ([]string, error) {
	if pointer := os.Getenv(EnvPointer); pointer != "" {
		v.SetConfigFile(pointer)
		return []string{pointer}, nil
	}

	v.SetConfigName(serviceName)
	v.SetConfigType("yaml")

	paths := searchPaths(serviceName)
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	return paths, nil
}

// searchPaths lists the standard filesystem locations searched, in order,
// plus a binary-relative fallback.
func searchPaths(serviceName string) []string {
	paths := []string{
		".",
		"./config",
		filepath.Join("/etc/fechatter", serviceName),
		"/etc/fechatter",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fechatter"))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Dir(exe))
	}
	return paths
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_concurrent", 1000)
	v.SetDefault("server.shutdown_grace_period", 15*time.Second)

	v.SetDefault("messaging.enabled", true)
	v.SetDefault("messaging.broker_url", "nats://localhost:4222")
	v.SetDefault("messaging.stream_name", "FECHATTER_DOMAIN_EVENTS")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.url", "redis://localhost:6379/0")
	v.SetDefault("cache.key_prefix", "fechatter:")
	v.SetDefault("cache.default_ttl", 300*time.Second)
	v.SetDefault("cache.max_bytes", int64(100<<20))

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.metrics.port", 9090)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.health_check.path", "/healthz")
	v.SetDefault("observability.health_check.timeout_ms", 2*time.Second)

	v.SetDefault("security.auth.enabled", true)
	v.SetDefault("security.cors.origins", []string{"*"})
	v.SetDefault("security.cors.methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.headers", []string{"Authorization", "Content-Type"})
	v.SetDefault("security.rate_limiting.rpm", 600)
	v.SetDefault("security.rate_limiting.burst", 50)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("search.index_name", "messages")

	v.SetDefault("email.smtp_port", 587)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.flush_interval_secs", 60*time.Second)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.compliance_mode", false)
	v.SetDefault("audit.excluded_paths", []string{"/health", "/metrics"})

	v.SetDefault("consistency.enabled", true)
	v.SetDefault("consistency.scan_interval", 5*time.Minute)
	v.SetDefault("consistency.partial_failure_warn_rate", 0.01)
	v.SetDefault("consistency.partial_failure_medium_rate", 0.02)
	v.SetDefault("consistency.partial_failure_high_rate", 0.05)
}
