// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the gateway core (§6.4).
type Config struct {
	Server    ServerConfig              `koanf:"server"`
	Providers map[string]ProviderConfig `koanf:"providers"`

	// DatabaseURL is the Postgres DSN backing internal/store/postgres.
	DatabaseURL string `koanf:"database_url"`
	// RedisURL, when set, switches the credential store to RedisStore;
	// empty means MemoryStore (single-box deployments and tests).
	RedisURL string `koanf:"redis_url"`
	// GatewayURL overrides every provider's default base URL template,
	// used by self-hosted deployments fronting their own upstream proxy.
	GatewayURL string `koanf:"gateway_url"`
	// UseResponsesAPI switches OpenAI-shaped reasoning+no-tools requests
	// from /chat/completions to /responses (§6.2, §4.1).
	UseResponsesAPI bool `koanf:"use_responses_api"`
	// IsProd gates behaviors that only make sense off a developer laptop,
	// the NODE_ENV-equivalent flag named in §6.4.
	IsProd bool `koanf:"is_prod"`
	// LockDurationMinutes is LOCK_DURATION_MINUTES (§4.6 step 1), the
	// staleness threshold before a Finalization Worker lease is reaped.
	LockDurationMinutes int `koanf:"lock_duration_minutes"`
	// FinalizeTickInterval is how often the Finalization Worker wakes up.
	FinalizeTickInterval time.Duration `koanf:"finalize_tick_interval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	LogLevel     string        `koanf:"log_level"`
}

// ProviderConfig holds the settings for a single LLM provider: its API key,
// given either literally or as a ${VAR} placeholder (e.g. ${OPENAI_API_KEY})
// that Load replaces with that environment variable's value, plus an
// optional base URL override.
type ProviderConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "GATEWAY_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   GATEWAY_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// §6.4's top-level environment variables are read directly rather than
	// under the GATEWAY_ prefix, matching the literal names the spec names
	// (DATABASE_URL, GATEWAY_URL, USE_RESPONSES_API, per-provider keys).
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.GatewayURL = v
	}
	if v := os.Getenv("USE_RESPONSES_API"); v != "" {
		cfg.UseResponsesAPI = v == "true"
	}
	if v := os.Getenv("IS_PROD"); v != "" {
		cfg.IsProd = v == "true"
	}

	if cfg.LockDurationMinutes <= 0 {
		cfg.LockDurationMinutes = 10
	}
	if cfg.FinalizeTickInterval <= 0 {
		cfg.FinalizeTickInterval = 30 * time.Second
	}

	// Expand ${VAR_NAME} placeholders in provider API keys, e.g.
	// providers.openai.api_key: ${OPENAI_API_KEY} in the YAML file.
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1]
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p
		}
	}

	return &cfg, nil
}
