// Package config implements cortexd's three-layer configuration: defaults,
// then environment variables (struct tags), then functional options
// (highest priority). Grounded on core/config.go of the teacher framework.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in spec §6.4.
type Config struct {
	Embedding   EmbeddingConfig   `json:"embedding" yaml:"embedding"`
	Admission   AdmissionConfig   `json:"admission" yaml:"admission"`
	Consolidate ConsolidateConfig `json:"consolidate" yaml:"consolidate"`
	Kernel      KernelConfig      `json:"kernel" yaml:"kernel"`
	Sandbox     SandboxConfig     `json:"sandbox" yaml:"sandbox"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Bus         BusConfig         `json:"bus" yaml:"bus"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
}

type EmbeddingConfig struct {
	Dim             int           `json:"dim" yaml:"dim" env:"CORTEXD_EMBEDDING_DIM" default:"384"`
	CacheTTLSeconds int           `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds" env:"CORTEXD_EMBEDDING_CACHE_TTL_SECONDS" default:"3600"`
	CacheSize       int           `json:"cache_size" yaml:"cache_size" env:"CORTEXD_EMBEDDING_CACHE_SIZE" default:"10000"`
	BatchSize       int           `json:"batch_size" yaml:"batch_size" env:"CORTEXD_EMBEDDING_BATCH_SIZE" default:"32"`
	RedisAddr       string        `json:"redis_addr" yaml:"redis_addr" env:"CORTEXD_EMBEDDING_REDIS_ADDR"`
	RetryTimeout    time.Duration `json:"retry_timeout" yaml:"retry_timeout" env:"CORTEXD_EMBEDDING_RETRY_TIMEOUT" default:"2s"`
}

type AdmissionConfig struct {
	NoveltyMin       float64 `json:"novelty_min" yaml:"novelty_min" env:"CORTEXD_ADMISSION_NOVELTY_MIN" default:"0.15"`
	DomainSaturation float64 `json:"domain_saturation" yaml:"domain_saturation" env:"CORTEXD_ADMISSION_DOMAIN_SATURATION" default:"0.80"`
	ScoreFloor       float64 `json:"score_floor" yaml:"score_floor" env:"CORTEXD_ADMISSION_SCORE_FLOOR" default:"0.05"`
}

type ConsolidateConfig struct {
	IntervalHours int `json:"interval_hours" yaml:"interval_hours" env:"CORTEXD_CONSOLIDATE_INTERVAL_HOURS" default:"24"`
}

type KernelConfig struct {
	CognitionTimeoutMS   int `json:"cognition_timeout_ms" yaml:"cognition_timeout_ms" env:"CORTEXD_KERNEL_COGNITION_TIMEOUT_MS" default:"60000"`
	MaxCognitionTimeoutMS int `json:"max_cognition_timeout_ms" yaml:"max_cognition_timeout_ms" env:"CORTEXD_KERNEL_MAX_COGNITION_TIMEOUT_MS" default:"600000"`
	MaxConcurrentPerAgent int `json:"max_concurrent_per_agent" yaml:"max_concurrent_per_agent" env:"CORTEXD_KERNEL_MAX_CONCURRENT_PER_AGENT" default:"10"`
	MaxConcurrentTotal    int `json:"max_concurrent_total" yaml:"max_concurrent_total" env:"CORTEXD_KERNEL_MAX_CONCURRENT_TOTAL" default:"500"`
}

type SandboxConfig struct {
	DefaultCPUSeconds  float64 `json:"default_cpu_seconds" yaml:"default_cpu_seconds" env:"CORTEXD_SANDBOX_DEFAULT_CPU_SECONDS" default:"5"`
	DefaultMemoryMB    int     `json:"default_memory_mb" yaml:"default_memory_mb" env:"CORTEXD_SANDBOX_DEFAULT_MEMORY_MB" default:"256"`
	DefaultWallSeconds float64 `json:"default_wall_seconds" yaml:"default_wall_seconds" env:"CORTEXD_SANDBOX_DEFAULT_WALL_SECONDS" default:"10"`
}

type PersistenceConfig struct {
	Driver          string        `json:"driver" yaml:"driver" env:"CORTEXD_PERSISTENCE_DRIVER" default:"sqlite"` // "postgres" | "sqlite"
	DSN             string        `json:"dsn" yaml:"dsn" env:"CORTEXD_PERSISTENCE_DSN"`
	PoolMin         int32         `json:"pool_min" yaml:"pool_min" env:"CORTEXD_PERSISTENCE_POOL_MIN" default:"5"`
	PoolMax         int32         `json:"pool_max" yaml:"pool_max" env:"CORTEXD_PERSISTENCE_POOL_MAX" default:"25"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"CORTEXD_PERSISTENCE_IDLE_TIMEOUT" default:"30m"`
	MigrationsPath  string        `json:"migrations_path" yaml:"migrations_path" env:"CORTEXD_PERSISTENCE_MIGRATIONS_PATH" default:"internal/storage/migrations"`
}

type BusConfig struct {
	InboxCapacity int `json:"inbox_capacity" yaml:"inbox_capacity" env:"CORTEXD_BUS_INBOX_CAPACITY" default:"1000"`
}

type HTTPConfig struct {
	Port            int           `json:"port" yaml:"port" env:"CORTEXD_PORT" default:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"CORTEXD_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"CORTEXD_HTTP_WRITE_TIMEOUT" default:"30s"`
	DegradedOKStart bool          `json:"degraded_ok_start" yaml:"degraded_ok_start" env:"CORTEXD_DEGRADED_OK"`
}

// Option mutates a Config, applied after defaults and env vars (highest
// priority layer, mirrors core.Option).
type Option func(*Config)

func WithHTTPPort(port int) Option {
	return func(c *Config) { c.HTTP.Port = port }
}

func WithPersistenceDriver(driver, dsn string) Option {
	return func(c *Config) { c.Persistence.Driver = driver; c.Persistence.DSN = dsn }
}

func WithEmbeddingDim(dim int) Option {
	return func(c *Config) { c.Embedding.Dim = dim }
}

// New builds a Config by applying defaults, then an optional YAML file,
// then environment variables, then functional options, in that priority
// order (lowest to highest).
func New(yamlPath string, opts ...Option) (*Config, error) {
	cfg := &Config{}
	applyDefaults(reflect.ValueOf(cfg).Elem())

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		}
	}

	applyEnv(reflect.ValueOf(cfg).Elem())

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the handful of cross-field invariants the API layer
// relies on (e.g. a zero cognition timeout must be rejected at submission
// per spec B3, which is checked per-request, not here; this only catches
// structurally invalid configuration at startup).
func (c *Config) Validate() error {
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("config: embedding.dim must be positive")
	}
	if c.Persistence.Driver != "postgres" && c.Persistence.Driver != "sqlite" {
		return fmt.Errorf("config: persistence.driver must be postgres or sqlite, got %q", c.Persistence.Driver)
	}
	if c.Persistence.PoolMin > c.Persistence.PoolMax {
		return fmt.Errorf("config: persistence.pool_min must be <= pool_max")
	}
	return nil
}

func applyDefaults(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && field.Tag.Get("env") == "" {
			applyDefaults(fv)
			continue
		}
		def, ok := field.Tag.Lookup("default")
		if !ok {
			continue
		}
		setFieldFromString(fv, def)
	}
}

func applyEnv(v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && field.Tag.Get("env") == "" {
			applyEnv(fv)
			continue
		}
		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}
		if val, ok := os.LookupEnv(envName); ok {
			setFieldFromString(fv, val)
		}
	}
}

func setFieldFromString(fv reflect.Value, s string) {
	if !fv.CanSet() {
		return
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		if fv.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(s); err == nil {
				fv.SetInt(int64(d))
			}
			return
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			fv.SetInt(n)
		}
	case reflect.Float64, reflect.Float32:
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			fv.SetFloat(n)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(s); err == nil {
			fv.SetBool(b)
		}
	}
}
