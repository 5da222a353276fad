// Package config handles loading and validating alama configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/alama/internal/marking"
)

// Provider kinds understood by the adapter registry.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// Config is the root configuration.
type Config struct {
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"` // debug, info, warn, error. Default: info. Override: ALAMA_LOG_LEVEL.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Default: ~/.alama/data. Override: ALAMA_DATA_DIR.
	Providers     []ProviderConfig     `json:"providers" yaml:"providers"`
	Routing       RoutingConfig        `json:"routing" yaml:"routing"`
	Cache         CacheConfig          `json:"cache" yaml:"cache"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite under data_dir when the cache uses the database store
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ProviderConfig describes one upstream marking provider. Providers are
// read-only after startup.
type ProviderConfig struct {
	Name           string   `json:"name" yaml:"name"`
	Type           string   `json:"type" yaml:"type"`                                   // openrouter, openai, anthropic, gemini, ollama
	APIKey         string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`         // Literal key or "env://VAR". Default: env://<TYPE>_API_KEY.
	BaseURL        string   `json:"base_url,omitempty" yaml:"base_url,omitempty"`       // Optional endpoint override.
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`             // Single model.
	Models         []string `json:"models,omitempty" yaml:"models,omitempty"`           // Ordered model chain tried within one attempt.
	Tier           string   `json:"tier,omitempty" yaml:"tier,omitempty"`               // FREE or PRO. Default: FREE.
	Priority       int      `json:"priority,omitempty" yaml:"priority,omitempty"`       // Lower runs first. Ties keep file order.
	MaxRetries     int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"` // Default: 3.
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"` // Default: true.
}

// Retries returns the attempt budget with a default of 3.
func (p *ProviderConfig) Retries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return 3
}

// Timeout returns the per-attempt deadline with a default of 30s.
func (p *ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds > 0 {
		return time.Duration(p.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// IsEnabled defaults to true.
func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ProviderTier returns the tier with a default of FREE.
func (p *ProviderConfig) ProviderTier() marking.Tier {
	t, err := marking.ParseTier(p.Tier)
	if err != nil {
		return marking.TierFree
	}
	return t
}

// ModelList returns the model chain. Models takes precedence over Model.
func (p *ProviderConfig) ModelList() []string {
	if len(p.Models) > 0 {
		return p.Models
	}
	if p.Model != "" {
		return []string{p.Model}
	}
	return nil
}

// APIKeyRef returns the credential reference for this provider.
func (p *ProviderConfig) APIKeyRef() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.Type == ProviderOllama {
		return ""
	}
	return "env://" + strings.ToUpper(p.Type) + "_API_KEY"
}

// RoutingConfig tunes the router's retry and fallback behaviour.
type RoutingConfig struct {
	StrategyFallback *bool `json:"strategy_fallback,omitempty" yaml:"strategy_fallback,omitempty"` // Default: true.
	InitialBackoffMs int   `json:"initial_backoff_ms,omitempty" yaml:"initial_backoff_ms,omitempty"`
	MaxBackoffMs     int   `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty"`
}

// StrategyFallbackEnabled defaults to true.
func (r *RoutingConfig) StrategyFallbackEnabled() bool {
	return r.StrategyFallback == nil || *r.StrategyFallback
}

// InitialBackoff returns the first retry delay with a default of 1s.
func (r *RoutingConfig) InitialBackoff() time.Duration {
	if r.InitialBackoffMs > 0 {
		return time.Duration(r.InitialBackoffMs) * time.Millisecond
	}
	return time.Second
}

// MaxBackoff returns the retry delay cap with a default of 5s.
func (r *RoutingConfig) MaxBackoff() time.Duration {
	if r.MaxBackoffMs > 0 {
		return time.Duration(r.MaxBackoffMs) * time.Millisecond
	}
	return 5 * time.Second
}

// CacheConfig configures the marking result cache.
type CacheConfig struct {
	Enabled            *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`                           // Default: true.
	Store              string `json:"store,omitempty" yaml:"store,omitempty"`                               // "memory" (default) or "database".
	TTLSeconds         int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`                   // Default: 3600.
	MemoryMaxEntries   int    `json:"memory_max_entries,omitempty" yaml:"memory_max_entries,omitempty"`     // Default: 100.
	OperationTimeoutMs int    `json:"operation_timeout_ms,omitempty" yaml:"operation_timeout_ms,omitempty"` // Default: 2000.
	PurgeSchedule      string `json:"purge_schedule,omitempty" yaml:"purge_schedule,omitempty"`             // Cron spec. Default: "@every 10m".
}

// IsEnabled defaults to true.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StoreKind returns the external store kind with a default of "memory".
func (c *CacheConfig) StoreKind() string {
	if c.Store != "" {
		return c.Store
	}
	return "memory"
}

// TTL returns the entry lifetime with a default of one hour.
func (c *CacheConfig) TTL() time.Duration {
	if c.TTLSeconds > 0 {
		return time.Duration(c.TTLSeconds) * time.Second
	}
	return time.Hour
}

// MaxEntries returns the in-process eviction threshold with a default of 100.
func (c *CacheConfig) MaxEntries() int {
	if c.MemoryMaxEntries > 0 {
		return c.MemoryMaxEntries
	}
	return 100
}

// OperationTimeout bounds a single external store call, default 2s.
func (c *CacheConfig) OperationTimeout() time.Duration {
	if c.OperationTimeoutMs > 0 {
		return time.Duration(c.OperationTimeoutMs) * time.Millisecond
	}
	return 2 * time.Second
}

// Schedule returns the purge cron spec with a default of every 10 minutes.
func (c *CacheConfig) Schedule() string {
	if c.PurgeSchedule != "" {
		return c.PurgeSchedule
	}
	return "@every 10m"
}

// StorageConfig configures the database backing the persistent cache.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/alama.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: ALAMA_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "alama"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures provider error-rate anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300.
}

// GatewaysConfig holds the inbound surfaces.
type GatewaysConfig struct {
	HTTP *HTTPGatewayConfig `json:"http,omitempty" yaml:"http,omitempty"`
	MCP  *MCPGatewayConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled               bool              `json:"enabled" yaml:"enabled"`
	EnableDocs            bool              `json:"enable_docs" yaml:"enable_docs"`
	ListenAddr            string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	MaxRequestSizeBytes   int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeyUserMapping     map[string]string `json:"api_key_user_mapping" yaml:"api_key_user_mapping"` // API key → user ID.
	ProUsers              []string          `json:"pro_users,omitempty" yaml:"pro_users,omitempty"`   // User IDs on the PRO tier.
	RequestTimeoutSeconds int               `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`
	RateLimit             RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// RequestTimeout bounds one marking request end to end, default 3 minutes.
func (h *HTTPGatewayConfig) RequestTimeout() time.Duration {
	if h != nil && h.RequestTimeoutSeconds > 0 {
		return time.Duration(h.RequestTimeoutSeconds) * time.Second
	}
	return 3 * time.Minute
}

// MCPGatewayConfig configures the MCP stdio tool server.
type MCPGatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Tier    string `json:"tier,omitempty" yaml:"tier,omitempty"` // Tier used for MCP callers. Default: FREE.
}

// RateLimitConfig configures per-user rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// DefaultConfigPath returns the default config file path (~/.alama/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/alama.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".alama", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	cfg, err := Parse(data, filepath.Ext(resolved))
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", resolved, err)
	}
	return cfg, nil
}

// Parse decodes config bytes in the format named by ext, applies environment
// overrides and validates the result.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".alama", "data")
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ALAMA_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ALAMA_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ALAMA_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("ALAMA_HTTP_LISTEN_ADDR"); v != "" && c.Gateways.HTTP != nil {
		c.Gateways.HTTP.ListenAddr = v
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "alama.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	names := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			p.Name = p.Type
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("providers[%d] (%q): %w", i, p.Name, err)
		}
		if names[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider name %q", i, p.Name)
		}
		names[p.Name] = true
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not supported (use debug, info, warn or error)", c.LogLevel)
	}

	switch c.Cache.StoreKind() {
	case "memory", "database":
	default:
		return fmt.Errorf("cache.store %q is not supported (use memory or database)", c.Cache.Store)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must not be negative")
	}
	if _, err := cron.ParseStandard(c.Cache.Schedule()); err != nil {
		return fmt.Errorf("cache.purge_schedule %q: %w", c.Cache.Schedule(), err)
	}

	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				return fmt.Errorf("storage.postgres.dsn is required (set ALAMA_DB_DSN env var)")
			}
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}

	if c.Routing.InitialBackoffMs < 0 || c.Routing.MaxBackoffMs < 0 {
		return fmt.Errorf("routing backoff values must not be negative")
	}

	if c.Gateways.MCP != nil && c.Gateways.MCP.Tier != "" {
		if _, err := marking.ParseTier(c.Gateways.MCP.Tier); err != nil {
			return fmt.Errorf("gateways.mcp.tier: %w", err)
		}
	}
	return nil
}

// validate checks that the provider has the fields its type needs.
func (p *ProviderConfig) validate() error {
	switch p.Type {
	case ProviderOpenRouter, ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("type %q is not supported (use openrouter, openai, anthropic, gemini or ollama)", p.Type)
	}
	if len(p.ModelList()) == 0 {
		return fmt.Errorf("model or models is required")
	}
	if p.Tier != "" {
		if _, err := marking.ParseTier(p.Tier); err != nil {
			return err
		}
	}
	if p.MaxRetries < 0 || p.TimeoutSeconds < 0 {
		return fmt.Errorf("max_retries and timeout_seconds must not be negative")
	}
	return nil
}
