// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the agent runtime reads from the environment.
type Config struct {
	// Provider selects the model backend: gemini, anthropic or openai.
	Provider string `envconfig:"AGENT_PROVIDER" default:"gemini"`
	Model    string `envconfig:"AGENT_MODEL" default:"gemini-2.0-flash"`

	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `envconfig:"OPENAI_BASE_URL"`

	// Mode is the tool execution policy: auto, approve, chat or
	// smart_approve.
	Mode string `envconfig:"AGENT_MODE" default:"auto"`

	// Strategy selects context reduction: drop_oldest, summarize_oldest or
	// pass_through.
	Strategy string `envconfig:"AGENT_CONTEXT_STRATEGY" default:"drop_oldest"`

	// Toolshim steers tool calls through the prompt for models without
	// native tool support.
	Toolshim bool `envconfig:"AGENT_TOOLSHIM" default:"false"`

	ContextLimit   int     `envconfig:"AGENT_CONTEXT_LIMIT"`
	EstimateFactor float64 `envconfig:"AGENT_ESTIMATE_FACTOR"`
	MaxTokens      int     `envconfig:"AGENT_MAX_TOKENS"`

	SessionDir string `envconfig:"AGENT_SESSION_DIR" default:"sessions"`
	WorkingDir string `envconfig:"AGENT_WORKING_DIR" default:"."`

	// Addr is the listen address of the websocket server.
	Addr string `envconfig:"AGENT_ADDR" default:":8080"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile  string `envconfig:"LOG_FILE"`
}

// Load reads configuration from the environment. A missing .env file is
// fine; a present one fills in unset variables.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}
	return cfg, nil
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() (string, error) {
	switch c.Provider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return "", fmt.Errorf("GEMINI_API_KEY is not set")
		}
		return c.GeminiAPIKey, nil
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return "", fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return c.AnthropicAPIKey, nil
	case "openai":
		if c.OpenAIAPIKey == "" {
			return "", fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return c.OpenAIAPIKey, nil
	}
	return "", fmt.Errorf("unknown provider %q", c.Provider)
}
