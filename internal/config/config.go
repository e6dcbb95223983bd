package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix       = "GATEWAY_"
	legacyEnvPrefix = "VITE_"

	StorageNone   = "none"
	StorageMemory = "memory"
	StorageSQLite = "sqlite"

	EstimatorChars  = "chars"
	EstimatorCL100K = "cl100k"

	ReasoningNone       = "none"
	ReasoningEnableFlag = "enable_flag"
	ReasoningBudgetOnly = "budget_only"

	DefaultPort           = 8080
	DefaultMaxBodyBytes   = 1 << 20 // 1 MiB
	DefaultContentBaseURL = "https://watcha.cn/api/v2"
	DefaultContentTimeout = 15 * time.Second
	DefaultServiceName    = "recap-gateway"
)

// DefaultAllowedPaths are the content-platform paths the proxy forwards.
var DefaultAllowedPaths = []string{
	`^users/[\w\-.%]+$`,
	`^users/\d+/reviews`,
	`^users/\d+/posts`,
}

// listKeys hold comma-separated values when they arrive from the environment.
var listKeys = []string{"gateway.priority", "server.allowed_origins", "content.allowed_paths"}

// vendorEnvFields maps vendor environment suffixes to provider config keys.
var vendorEnvFields = map[string]string{
	"API_KEY":    "api_key",
	"BASE_URL":   "base_url",
	"MODEL":      "model",
	"MAX_TOKENS": "max_tokens",
	"TIMEOUT":    "timeout",
}

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig              `koanf:"server" yaml:"server"`
	Gateway   GatewayConfig             `koanf:"gateway" yaml:"gateway"`
	Providers map[string]ProviderConfig `koanf:"providers" yaml:"providers"`
	Content   ContentConfig             `koanf:"content" yaml:"content"`
	Storage   StorageConfig             `koanf:"storage" yaml:"storage"`
	Telemetry TelemetryConfig           `koanf:"telemetry" yaml:"telemetry"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port           int      `koanf:"port" yaml:"port"`
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins"`
	RateLimit      float64  `koanf:"rate_limit" yaml:"rate_limit"`
	MaxBodyBytes   int64    `koanf:"max_body_bytes" yaml:"max_body_bytes"`
}

// GatewayConfig tunes the failover orchestrator.
type GatewayConfig struct {
	Priority       []string `koanf:"priority" yaml:"priority"`
	Temperature    float64  `koanf:"temperature" yaml:"temperature"`
	TokenEstimator string   `koanf:"token_estimator" yaml:"token_estimator"`
}

// ProviderConfig overrides the built-in settings of one vendor, or declares a custom one.
type ProviderConfig struct {
	APIKey    string        `koanf:"api_key" yaml:"api_key"`
	BaseURL   string        `koanf:"base_url" yaml:"base_url"`
	Model     string        `koanf:"model" yaml:"model"`
	MaxTokens int           `koanf:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`
	Reasoning string        `koanf:"reasoning" yaml:"reasoning"`
}

// ContentConfig configures the content-platform proxy.
type ContentConfig struct {
	BaseURL      string        `koanf:"base_url" yaml:"base_url"`
	Timeout      time.Duration `koanf:"timeout" yaml:"timeout"`
	AllowedPaths []string      `koanf:"allowed_paths" yaml:"allowed_paths"`
}

// StorageConfig selects the request ledger backend.
type StorageConfig struct {
	Driver string `koanf:"driver" yaml:"driver"`
	Path   string `koanf:"path" yaml:"path"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"service_name" yaml:"service_name"`
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
// vendors lists the built-in vendor identifiers whose legacy environment variables
// (DEEPSEEK_API_KEY, VITE_DEEPSEEK_API_KEY, ...) are honoured.
func Load(path string, vendors []string) (Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		if err := k.Load(file.Provider(absPath), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	applyVendorEnv(k, vendors)
	splitListValues(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	normalise(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":             DefaultPort,
		"server.max_body_bytes":   DefaultMaxBodyBytes,
		"gateway.temperature":     0.7,
		"gateway.token_estimator": EstimatorChars,
		"content.base_url":        DefaultContentBaseURL,
		"content.timeout":         DefaultContentTimeout.String(),
		"content.allowed_paths":   DefaultAllowedPaths,
		"storage.driver":          StorageNone,
		"telemetry.service_name":  DefaultServiceName,
	}
	for key, value := range defaults {
		_ = k.Set(key, value)
	}
}

func applyVendorEnv(k *koanf.Koanf, vendors []string) {
	ids := append([]string{}, vendors...)
	ids = append(ids, k.MapKeys("providers")...)

	for _, id := range ids {
		stem := EnvStem(id)
		for suffix, key := range vendorEnvFields {
			if value, ok := lookupEnv(stem + "_" + suffix); ok {
				_ = k.Set("providers."+id+"."+key, value)
			}
		}
	}

	if value, ok := lookupEnv("LLM_PROVIDERS"); ok {
		_ = k.Set("gateway.priority", value)
	}
}

// lookupEnv reads name, falling back to its VITE_-prefixed form.
func lookupEnv(name string) (string, bool) {
	for _, candidate := range []string{name, legacyEnvPrefix + name} {
		if value, ok := os.LookupEnv(candidate); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func splitListValues(k *koanf.Koanf) {
	for _, key := range listKeys {
		raw, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		_ = k.Set(key, SplitList(raw))
	}
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EnvStem converts a vendor identifier into its environment variable stem.
func EnvStem(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

func normalise(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for i, id := range cfg.Gateway.Priority {
		cfg.Gateway.Priority[i] = strings.ToLower(strings.TrimSpace(id))
	}
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	cfg.Gateway.TokenEstimator = strings.ToLower(strings.TrimSpace(cfg.Gateway.TokenEstimator))
	cfg.Content.BaseURL = strings.TrimRight(cfg.Content.BaseURL, "/")
}

// Validate performs strict sanity checks on the configuration. Missing vendor
// credentials are not errors: such vendors are skipped at request time.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}

	if c.Gateway.Temperature < 0 || c.Gateway.Temperature > 2 {
		return fmt.Errorf("gateway.temperature must be within [0, 2], got %v", c.Gateway.Temperature)
	}
	switch c.Gateway.TokenEstimator {
	case EstimatorChars, EstimatorCL100K:
	default:
		return fmt.Errorf("gateway.token_estimator %q must be one of %q or %q", c.Gateway.TokenEstimator, EstimatorChars, EstimatorCL100K)
	}

	for id, p := range c.Providers {
		if err := validateProvider(id, p); err != nil {
			return err
		}
	}

	if c.Content.Timeout < 0 {
		return fmt.Errorf("content.timeout must not be negative, got %s", c.Content.Timeout)
	}
	for _, pattern := range c.Content.AllowedPaths {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("content.allowed_paths: invalid pattern %q: %w", pattern, err)
		}
	}

	switch c.Storage.Driver {
	case StorageNone, StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("storage.driver %q must be one of %q, %q or %q", c.Storage.Driver, StorageNone, StorageMemory, StorageSQLite)
	}

	return nil
}

func validateProvider(id string, p ProviderConfig) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("provider id must not be empty")
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("provider %s: max_tokens must not be negative", id)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("provider %s: timeout must not be negative", id)
	}
	switch p.Reasoning {
	case "", ReasoningNone, ReasoningEnableFlag, ReasoningBudgetOnly:
	default:
		return fmt.Errorf("provider %s: reasoning %q must be one of %q, %q or %q", id, p.Reasoning, ReasoningNone, ReasoningEnableFlag, ReasoningBudgetOnly)
	}
	return nil
}

// Masked returns a copy with every credential replaced by a fixed-width marker.
func (c Config) Masked() Config {
	out := c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for id, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = MaskSecret(p.APIKey)
		}
		out.Providers[id] = p
	}
	return out
}

// MaskSecret keeps the last four characters of a credential.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
