// Package config provides unified configuration loading for debateflow:
// YAML file + environment variable overrides on top of defaults.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("debate.yaml").
//	    WithEnvPrefix("DEBATEFLOW").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete debateflow configuration.
type Config struct {
	// Run holds the debate run parameters.
	Run RunConfig `yaml:"run" env:"RUN"`

	// Agents is the fixed roster, in turn-priority order. The first agent
	// opens the debate.
	Agents []AgentConfig `yaml:"agents" env:"-"`

	// Gateway configures the LLM gateway adapter.
	Gateway GatewayConfig `yaml:"gateway" env:"GATEWAY"`

	// Checkpoint configures optional run state persistence.
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Server configures the event streaming / metrics HTTP surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// RunConfig holds the recognized run parameters of one debate.
type RunConfig struct {
	// Topic of the debate. Required.
	Topic string `yaml:"topic" env:"TOPIC"`
	// MaxTurns is the hard termination bound.
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
	// FacilitatorCheckInterval is the turn period of facilitator checks.
	FacilitatorCheckInterval int `yaml:"facilitator_check_interval" env:"FACILITATOR_CHECK_INTERVAL"`
	// ConvergenceThreshold gates metric-driven termination.
	ConvergenceThreshold float64 `yaml:"convergence_threshold" env:"CONVERGENCE_THRESHOLD"`
	// ReadyRatioThreshold gates metric-driven termination.
	ReadyRatioThreshold float64 `yaml:"ready_ratio_threshold" env:"READY_RATIO_THRESHOLD"`
	// DepthThreshold gates metric-driven termination.
	DepthThreshold float64 `yaml:"depth_threshold" env:"DEPTH_THRESHOLD"`
	// MaxConcurrentComments bounds the peer-comment fan-out.
	MaxConcurrentComments int `yaml:"max_concurrent_comments" env:"MAX_CONCURRENT_COMMENTS"`
	// StagnationWindow is how many trailing utterances the facilitator
	// submits for the stagnation judgment.
	StagnationWindow int `yaml:"stagnation_window" env:"STAGNATION_WINDOW"`
}

// AgentConfig describes one debate participant. Persona and subjective
// views are opaque prompt material; the scheduler never interprets them.
type AgentConfig struct {
	Name    string `yaml:"name"`
	Persona string `yaml:"persona"`
	// SubjectiveViews maps other agents' names to this agent's private
	// opinion of them.
	SubjectiveViews map[string]string `yaml:"subjective_views,omitempty"`
}

// GatewayConfig configures the LLM gateway adapter.
type GatewayConfig struct {
	BaseURL        string  `yaml:"base_url" env:"BASE_URL"`
	APIKey         string  `yaml:"api_key" env:"API_KEY"`
	Model          string  `yaml:"model" env:"MODEL"`
	EmbeddingModel string  `yaml:"embedding_model" env:"EMBEDDING_MODEL"`
	Temperature    float64 `yaml:"temperature" env:"TEMPERATURE"`
	// Timeout is the per-call deadline; exceeding it is a transient failure.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// MaxRetries bounds transient-error retries per call.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// ParseRetries bounds the stricter re-prompts after schema validation
	// failures.
	ParseRetries int `yaml:"parse_retries" env:"PARSE_RETRIES"`
	// RateLimitRPS throttles outbound calls; 0 disables throttling.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// PromptTokenBudget caps the prompt size; oldest history is dropped
	// first when the budget is exceeded.
	PromptTokenBudget int `yaml:"prompt_token_budget" env:"PROMPT_TOKEN_BUDGET"`
}

// CheckpointConfig configures run state persistence.
type CheckpointConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Store selects the backend: "sqlite" or "redis".
	Store string `yaml:"store" env:"STORE"`
	// Path is the SQLite database file.
	Path  string               `yaml:"path" env:"PATH"`
	Redis RedisConfig          `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds Redis connection settings for the checkpoint store.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ServerConfig configures the HTTP surface (WebSocket event stream,
// Prometheus metrics, health check).
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// Loader loads configuration (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DEBATEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a custom validator.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads the configuration.
// Precedence: defaults → YAML file → environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile loads configuration from the YAML file. A missing file is
// not an error; the defaults stay in effect.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overrides fields from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively sets struct fields from the environment.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue assigns a string value to a reflected field.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration and panics on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
