package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config holds every setting of the parley binary.
	Config struct {
		Server  ServerConfig  `yaml:"server"`
		Log     LogConfig     `yaml:"log"`
		Library LibraryConfig `yaml:"library"`
		Store   StoreConfig   `yaml:"store"`
		LLM     LLMConfig     `yaml:"llm"`
		Engine  EngineConfig  `yaml:"engine"`
		Notify  NotifyConfig  `yaml:"notify"`
	}

	ServerConfig struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	}

	LogConfig struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// LibraryConfig points at the role and template sources.
	LibraryConfig struct {
		// Kind is "yaml" (a directory of YAML files) or "loam" (Markdown with front matter).
		Kind string `yaml:"kind"`
		Dir  string `yaml:"dir"`
	}

	StoreConfig struct {
		// Kind is "memory", "file" or "redis".
		Kind     string        `yaml:"kind"`
		Path     string        `yaml:"path"`
		RedisURL string        `yaml:"redis_url"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`

		// EncryptionKey is a base64 encoded 32 byte AES key. Empty disables encryption.
		EncryptionKey string `yaml:"encryption_key"`

		// Redact masks e-mail addresses and API keys in messages before they are stored.
		Redact            bool     `yaml:"redact"`
		RedactionPatterns []string `yaml:"redaction_patterns"`
	}

	LLMConfig struct {
		// Provider is "openai" (any OpenAI compatible endpoint), "process"
		// (a local command per turn) or "scripted".
		Provider    string   `yaml:"provider"`
		APIKey      string   `yaml:"api_key"`
		BaseURL     string   `yaml:"base_url"`
		Model       string   `yaml:"model"`
		MaxTokens   int      `yaml:"max_tokens"`
		Temperature *float32 `yaml:"temperature"`

		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
	}

	EngineConfig struct {
		GenerationTimeout      time.Duration `yaml:"generation_timeout"`
		MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
		LockTTL                time.Duration `yaml:"lock_ttl"`
		DistributedLock        bool          `yaml:"distributed_lock"`

		// JudgeConditions lets the generator decide exit conditions that are
		// neither valid expressions nor plain phrases.
		JudgeConditions bool `yaml:"judge_conditions"`
	}

	NotifyConfig struct {
		// RedisChannel publishes events on Redis when set (requires store.redis_url).
		RedisChannel string `yaml:"redis_channel"`
	}
)

const (
	DefaultHost                   = "0.0.0.0"
	DefaultPort                   = 8080
	MaxTCPPort                    = 65535
	DefaultShutdownTimeout        = 5 * time.Second
	DefaultGenerationTimeout      = 60 * time.Second
	DefaultMaxConsecutiveFailures = 3
	DefaultLockTTL                = 2 * time.Minute
	DefaultRedisPrefix            = "parley:"
	DefaultModel                  = "gpt-4o-mini"
	DefaultMaxTokens              = 1024

	MaxConsecutiveFailures = 100
	MaxMaxTokens           = 1_000_000
)

var (
	ErrInvalidPort              = errors.New("invalid server port")
	ErrInvalidStoreKind         = errors.New("invalid store kind")
	ErrInvalidLibraryKind       = errors.New("invalid library kind")
	ErrInvalidProvider          = errors.New("invalid llm provider")
	ErrMissingAPIKey            = errors.New("llm api key is required for the openai provider")
	ErrMissingCommand           = errors.New("llm command is required for the process provider")
	ErrMissingRedisURL          = errors.New("redis url is required")
	ErrInvalidGenerationTimeout = errors.New("generation timeout must be positive")
	ErrInvalidFailureCap        = errors.New("max consecutive failures must be positive")
	ErrInvalidEncryptionKey     = errors.New("encryption key must be 32 bytes, base64 encoded")
)

// NewDefaultConfig creates a configuration that runs fully in-process:
// memory store, scripted generator, library in ./library.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Library: LibraryConfig{Kind: "yaml", Dir: "library"},
		Store: StoreConfig{
			Kind:   "memory",
			Path:   ".parley/sessions",
			Prefix: DefaultRedisPrefix,
		},
		LLM: LLMConfig{
			Provider:  "scripted",
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Engine: EngineConfig{
			GenerationTimeout:      DefaultGenerationTimeout,
			MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
			LockTTL:                DefaultLockTTL,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if any), then .env and the process environment.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a YAML document over the current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv populates configuration values from PARLEY_* environment variables.
// OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL are honored as fallbacks.
// Returns an error if any env var cannot be parsed.
func (c *Config) LoadFromEnv() error {
	loadEnvString("PARLEY_HOST", &c.Server.Host)
	loadEnvString("PARLEY_LOG_LEVEL", &c.Log.Level)
	loadEnvString("PARLEY_LOG_FORMAT", &c.Log.Format)
	loadEnvString("PARLEY_LIBRARY_KIND", &c.Library.Kind)
	loadEnvString("PARLEY_LIBRARY_DIR", &c.Library.Dir)
	loadEnvString("PARLEY_STORE", &c.Store.Kind)
	loadEnvString("PARLEY_STORE_PATH", &c.Store.Path)
	loadEnvString("PARLEY_REDIS_URL", &c.Store.RedisURL)
	loadEnvString("PARLEY_REDIS_PREFIX", &c.Store.Prefix)
	loadEnvString("PARLEY_ENCRYPTION_KEY", &c.Store.EncryptionKey)
	loadEnvString("PARLEY_LLM_PROVIDER", &c.LLM.Provider)
	loadEnvString("OPENAI_API_KEY", &c.LLM.APIKey)
	loadEnvString("PARLEY_LLM_API_KEY", &c.LLM.APIKey)
	loadEnvString("OPENAI_BASE_URL", &c.LLM.BaseURL)
	loadEnvString("PARLEY_LLM_BASE_URL", &c.LLM.BaseURL)
	loadEnvString("OPENAI_MODEL", &c.LLM.Model)
	loadEnvString("PARLEY_LLM_MODEL", &c.LLM.Model)
	loadEnvString("PARLEY_LLM_COMMAND", &c.LLM.Command)
	loadEnvString("PARLEY_NOTIFY_REDIS_CHANNEL", &c.Notify.RedisChannel)

	if err := loadEnvBool("PARLEY_DISTRIBUTED_LOCK", &c.Engine.DistributedLock); err != nil {
		return err
	}
	if err := loadEnvBool("PARLEY_REDACT", &c.Store.Redact); err != nil {
		return err
	}
	if err := loadEnvBool("PARLEY_JUDGE_CONDITIONS", &c.Engine.JudgeConditions); err != nil {
		return err
	}

	if err := loadEnvInt("PARLEY_PORT", &c.Server.Port, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("PARLEY_LLM_MAX_TOKENS", &c.LLM.MaxTokens, 0, MaxMaxTokens); err != nil {
		return err
	}
	if err := loadEnvInt(
		"PARLEY_MAX_CONSECUTIVE_FAILURES", &c.Engine.MaxConsecutiveFailures, 0, MaxConsecutiveFailures,
	); err != nil {
		return err
	}
	if err := loadEnvDuration("PARLEY_GENERATION_TIMEOUT", &c.Engine.GenerationTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration("PARLEY_LOCK_TTL", &c.Engine.LockTTL); err != nil {
		return err
	}
	if err := loadEnvDuration("PARLEY_STORE_TTL", &c.Store.TTL); err != nil {
		return err
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	switch c.Store.Kind {
	case "memory", "file":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w for the redis store", ErrMissingRedisURL)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreKind, c.Store.Kind)
	}

	if c.Engine.DistributedLock && c.Store.RedisURL == "" {
		return fmt.Errorf("%w for distributed locking", ErrMissingRedisURL)
	}
	if c.Notify.RedisChannel != "" && c.Store.RedisURL == "" {
		return fmt.Errorf("%w for redis notifications", ErrMissingRedisURL)
	}

	switch c.Library.Kind {
	case "yaml", "loam":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLibraryKind, c.Library.Kind)
	}

	switch c.LLM.Provider {
	case "scripted":
	case "openai":
		if c.LLM.APIKey == "" {
			return ErrMissingAPIKey
		}
	case "process":
		if c.LLM.Command == "" {
			return ErrMissingCommand
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.LLM.Provider)
	}

	if c.Engine.GenerationTimeout <= 0 {
		return ErrInvalidGenerationTimeout
	}
	if c.Engine.MaxConsecutiveFailures <= 0 {
		return ErrInvalidFailureCap
	}

	if c.Store.EncryptionKey != "" {
		if _, err := c.EncryptionKey(); err != nil {
			return err
		}
	}
	return nil
}

// EncryptionKey decodes Store.EncryptionKey. It returns nil when encryption is off.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Store.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Store.EncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	return key, nil
}

func loadEnvString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func loadEnvBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = b
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max]. Returns an error if
// the value cannot be parsed or falls outside the valid range.
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
