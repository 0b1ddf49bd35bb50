package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file (if path is non-empty and exists),
// overlays environment variables via godotenv (best-effort, mirrors the
// teacher's dev-time .env convention), and fills in documented defaults
// for anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	// Best-effort .env overlay; a missing .env is not an error (local/dev
	// convenience only, matches teacher's use of joho/godotenv).
	_ = godotenv.Load()

	if path == "" {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Unmarshal onto the defaulted struct so omitted YAML fields keep
	// their documented defaults instead of zeroing out.
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HCME_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("HCME_QDRANT_DSN"); v != "" {
		cfg.Qdrant.DSN = v
	}
	if v := os.Getenv("HCME_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HCME_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("HCME_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.LLM.Google.APIKey = v
	}
}
