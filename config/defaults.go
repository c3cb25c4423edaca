package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Run:        DefaultRunConfig(),
		Gateway:    DefaultGatewayConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Server:     DefaultServerConfig(),
		Log:        DefaultLogConfig(),
	}
}

// DefaultRunConfig returns the default run parameters.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		MaxTurns:                 24,
		FacilitatorCheckInterval: 8,
		ConvergenceThreshold:     0.98,
		ReadyRatioThreshold:      0.8,
		DepthThreshold:           0.7,
		MaxConcurrentComments:    4,
		StagnationWindow:         3,
	}
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BaseURL:           "https://api.openai.com",
		Model:             "gpt-4o-mini",
		EmbeddingModel:    "text-embedding-3-small",
		Temperature:       0.8,
		Timeout:           60 * time.Second,
		MaxRetries:        3,
		ParseRetries:      2,
		RateLimitRPS:      5,
		RateLimitBurst:    10,
		PromptTokenBudget: 8000,
	}
}

// DefaultCheckpointConfig returns the default checkpoint configuration.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Enabled: false,
		Store:   "sqlite",
		Path:    "debateflow.db",
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "debateflow:",
		},
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Enabled:         false,
		Addr:            ":8080",
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stdout"},
	}
}
