package model

import "time"

// Config is the complete runtime configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm"`
	Oracle       OracleConfig       `yaml:"oracle" mapstructure:"oracle"`
	Database     DatabaseConfig     `yaml:"database" mapstructure:"database"`
	Watermark    WatermarkConfig    `yaml:"watermark" mapstructure:"watermark"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// LLMConfig selects and tunes the model backend.
type LLMConfig struct {
	Provider      string        `yaml:"provider" mapstructure:"provider"` // openai, ollama, anthropic, gemini
	Model         string        `yaml:"model" mapstructure:"model"`
	APIKey        string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL       string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Temperature   float32       `yaml:"temperature" mapstructure:"temperature"`
	TopP          float32       `yaml:"top_p" mapstructure:"top_p"`
	MaxTokens     int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	RepeatPenalty float32       `yaml:"repeat_penalty" mapstructure:"repeat_penalty"`
}

// OracleConfig bounds the conversation.
type OracleConfig struct {
	ResetAfter  int `yaml:"reset_after" mapstructure:"reset_after"`   // Well-formed classifications before history is dropped
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"` // Tries per query before MalformedOutput
}

// DatabaseConfig describes the relational store.
type DatabaseConfig struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"` // sqlite, postgres, mysql
	DSN           string        `yaml:"dsn" mapstructure:"dsn"`
	UpstreamTable string        `yaml:"upstream_table" mapstructure:"upstream_table"`
	ResultsTable  string        `yaml:"results_table" mapstructure:"results_table"`
	MaxAttempts   int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
	EnsureSchema  bool          `yaml:"ensure_schema" mapstructure:"ensure_schema"`
}

// WatermarkConfig selects where the watermark lives.
type WatermarkConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // file, database
	Path    string `yaml:"path" mapstructure:"path"`
	Name    string `yaml:"name" mapstructure:"name"`
}

// Skip policies for records the oracle could not classify.
const (
	SkipPolicyAdvance = "advance"
	SkipPolicyBlock   = "block"
)

// PipelineConfig drives the batch loop.
type PipelineConfig struct {
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	Iterations   int           `yaml:"iterations" mapstructure:"iterations"`
	IdleDelay    time.Duration `yaml:"idle_delay" mapstructure:"idle_delay"`
	EmptyBackoff time.Duration `yaml:"empty_backoff" mapstructure:"empty_backoff"`
	SkipPolicy   string        `yaml:"skip_policy" mapstructure:"skip_policy"`
}

// CacheConfig controls the classification memo.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL             time.Duration `yaml:"ttl" mapstructure:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// RateLimitingConfig paces model calls. Zero disables pacing.
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json, console
}

// DefaultConfig returns the defaults used when nothing else is configured.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			Timeout:       2 * time.Minute,
			Temperature:   0.6,
			TopP:          0.8,
			MaxTokens:     8192,
			RepeatPenalty: 1.2,
		},
		Oracle: OracleConfig{
			ResetAfter:  8,
			MaxAttempts: 3,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			DSN:           "psyclass.db",
			UpstreamTable: "weibo",
			ResultsTable:  "analysis_results",
			MaxAttempts:   3,
			RetryDelay:    2 * time.Second,
			EnsureSchema:  true,
		},
		Watermark: WatermarkConfig{
			Backend: "file",
			Path:    "last_processed_id.txt",
			Name:    "weibo",
		},
		Pipeline: PipelineConfig{
			BatchSize:    2,
			Iterations:   1000,
			IdleDelay:    2 * time.Second,
			EmptyBackoff: 30 * time.Second,
			SkipPolicy:   SkipPolicyAdvance,
		},
		Cache: CacheConfig{
			Enabled:         true,
			TTL:             time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 0,
			BurstSize:         1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
