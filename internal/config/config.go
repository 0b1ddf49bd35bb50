// Package config holds HCME's single immutable configuration value. Every
// component receives a Config value at construction time rather
// than reaching for ambient global state or per-call optional structs
// (spec.md §9: "per-call feature flags via optional config records become
// a single immutable Config value passed by reference").
package config

import "time"

// Config is the root configuration record (spec.md §6 plus connection
// settings for the external collaborators spec.md treats as narrow
// interfaces).
type Config struct {
	// MaxContextChars is the total character budget for an assembled
	// prompt (spec.md §6 default 100_000).
	MaxContextChars int `yaml:"max_context_chars"`

	// L1ThresholdPercent / L2ThresholdPercent are the per-level
	// summarization trigger fractions of MaxContextChars (default 10
	// each). A value of 0 disables summarization at that level
	// (spec.md §8 boundary B1).
	L1ThresholdPercent int `yaml:"l1_threshold_percent"`
	L2ThresholdPercent int `yaml:"l2_threshold_percent"`

	// LastUserQueriesPercent / CodeSearchPercent size the Context
	// Builder's named sub-budgets (spec.md §4.10).
	LastUserQueriesPercent int `yaml:"last_user_queries_percent"`
	RecentTurnsPercent     int `yaml:"recent_turns_percent"`
	RecentL1SummariesPercent int `yaml:"recent_l1_summaries_percent"`
	CodeSearchPercent      int `yaml:"code_search_percent"`

	// CodeSearchInitialLimit is the starting top-K for code-semantic
	// search before widening (spec.md §4.9).
	CodeSearchInitialLimit int `yaml:"code_search_initial_limit"`

	// Confidence tiers are policy, not measurements (spec.md §9); keep
	// them configurable per deployment.
	L0Confidence          float64 `yaml:"l0_confidence"`
	L1Confidence          float64 `yaml:"l1_confidence"`
	L2Confidence          float64 `yaml:"l2_confidence"`
	GrepConfidence        float64 `yaml:"grep_confidence"`
	BrainSearchConfidence float64 `yaml:"brain_search_confidence"`

	// Code-search type boosts (spec.md §4.9), keyed by unit type.
	TypeBoosts map[string]float64 `yaml:"type_boosts"`

	// Tool-context summarization threshold in characters (spec.md §4.12
	// default 50_000).
	ToolContextSummarizeThreshold int `yaml:"tool_context_summarize_threshold"`

	// Structured LLM Executor tuning (spec.md §4.12).
	BatchFanout        int `yaml:"batch_fanout"`
	BatchItemCap       int `yaml:"batch_item_cap"`
	MaxIterations      int `yaml:"max_iterations"`
	MaxToolCallRounds  int `yaml:"max_tool_call_rounds"`
	CharsPerToken      int `yaml:"chars_per_token"`

	// Embedding provider soft caps (spec.md §6).
	EmbeddingSoftCapChars int `yaml:"embedding_soft_cap_chars"`
	EmbeddingMinChars     int `yaml:"embedding_min_chars"`

	// Connection settings for external collaborators. These are narrow
	// by design: HCME treats the graph DB, embedding/LLM providers, and
	// brain registry as collaborators with contracts, not owned
	// subsystems (spec.md §1).
	Postgres PostgresConfig `yaml:"postgres"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Redis    RedisConfig    `yaml:"redis"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM      LLMConfig      `yaml:"llm"`

	// DeadlinePerCall bounds every outbound suspension point (spec.md §5)
	// unless the caller supplies a tighter context deadline.
	DeadlinePerCall time.Duration `yaml:"deadline_per_call"`

	// Logging flags (spec.md §6).
	LogLLMCalls    bool   `yaml:"log_llm_calls"`
	LogDir         string `yaml:"log_dir"`
	ScheduleAnalysis bool `yaml:"schedule_analysis"`
}

// PostgresConfig configures the GraphStore Gateway's pgx pool.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// QdrantConfig configures the named vector-index façade.
type QdrantConfig struct {
	DSN                    string `yaml:"dsn"`
	MessageCollection      string `yaml:"message_collection"`
	SummaryCollection      string `yaml:"summary_collection"`
	ScopeCollection        string `yaml:"scope_collection"`
	Dimension              int    `yaml:"dimension"`
	Metric                 string `yaml:"metric"`
}

// RedisConfig configures the brain registry's advisory-lock client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EmbeddingConfig configures the embedding provider HTTP contract
// (spec.md §6).
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	APIHeader string `yaml:"api_header"`
	Timeout   int    `yaml:"timeout_seconds"`
}

// LLMConfig selects and configures the chat-completion provider
// (spec.md §6).
type LLMConfig struct {
	Provider  string          `yaml:"provider"` // anthropic | openai | google
	Model     string          `yaml:"model"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Google    GoogleConfig    `yaml:"google"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type GoogleConfig struct {
	APIKey string `yaml:"api_key"`
}

// Default returns a Config populated with spec.md's documented defaults.
func Default() Config {
	return Config{
		MaxContextChars:               100_000,
		L1ThresholdPercent:            10,
		L2ThresholdPercent:            10,
		LastUserQueriesPercent:        5,
		RecentTurnsPercent:            5,
		RecentL1SummariesPercent:      10,
		CodeSearchPercent:             10,
		CodeSearchInitialLimit:        100,
		L0Confidence:                  1.0,
		L1Confidence:                  0.7,
		L2Confidence:                  0.5,
		GrepConfidence:                0.3,
		BrainSearchConfidence:         0.5,
		TypeBoosts: map[string]float64{
			"method":    1.15,
			"function":  1.15,
			"arrow":     1.10,
			"class":     1.05,
			"interface": 1.00,
			"type":      1.00,
			"variable":  0.95,
			"property":  0.90,
		},
		ToolContextSummarizeThreshold: 50_000,
		BatchFanout:                   5,
		BatchItemCap:                  50,
		MaxIterations:                 10,
		MaxToolCallRounds:             5,
		CharsPerToken:                 4,
		EmbeddingSoftCapChars:         4_000,
		EmbeddingMinChars:             10,
		DeadlinePerCall:               30 * time.Second,
	}
}

// L1Threshold returns T1 in characters.
func (c Config) L1Threshold() int { return c.MaxContextChars * c.L1ThresholdPercent / 100 }

// L2Threshold returns T2 in characters.
func (c Config) L2Threshold() int { return c.MaxContextChars * c.L2ThresholdPercent / 100 }

// Budget returns the character budget for a named Context Builder source.
func (c Config) Budget(percent int) int { return c.MaxContextChars * percent / 100 }
