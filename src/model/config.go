package model

import "time"

// ----------------------------------------------------
// ================ Logging ================
// LogConfig holds configuration for the global zerolog logger
type LogConfig struct {
	Level      string `envconfig:"LEVEL" default:"info"`
	Format     string `envconfig:"FORMAT" default:"console"` // console | json
	Output     string `envconfig:"OUTPUT" default:"stdout"`  // stdout | stderr | file
	FilePath   string `envconfig:"FILE_PATH" default:"logs/eino_flow.log"`
	TimeFormat string `envconfig:"TIME_FORMAT" default:"rfc3339"`
}

// ----------------------------------------------------
// ================ Storage ================
// RedisConfig holds the connection settings shared by every Redis-backed store
type RedisConfig struct {
	URL          string        `envconfig:"URL" default:"redis://localhost:6379/0"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// ----------------------------------------------------
// ================ Engine ================
// EngineConfig controls graph compilation and node dispatch
type EngineConfig struct {
	GraphFile    string        `envconfig:"GRAPH_FILE" default:"workflow.yaml"`
	MaxPaths     int           `envconfig:"MAX_PATHS" default:"1024"`
	NodeTimeout  time.Duration `envconfig:"NODE_TIMEOUT" default:"2m"`
	MaxRetries   int           `envconfig:"MAX_RETRIES" default:"0"`
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
	GlobalVarTTL time.Duration `envconfig:"GLOBAL_VAR_TTL" default:"720h"`
}

// EventConfig controls the interrupt/resume registry
type EventConfig struct {
	Namespace      string        `envconfig:"NAMESPACE" default:"eino_flow"`
	DefaultTimeout time.Duration `envconfig:"DEFAULT_TIMEOUT" default:"10m"`
	TTL            time.Duration `envconfig:"TTL" default:"24h"`
}

// CodeConfig points the code node at its sandbox
type CodeConfig struct {
	Endpoint      string        `envconfig:"ENDPOINT" default:"http://localhost:8194"`
	APIKey        string        `envconfig:"API_KEY"`
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"15s"`
	EnableNetwork bool          `envconfig:"ENABLE_NETWORK" default:"false"`
}

// ----------------------------------------------------
// ================ LLM ================
// LLMConfig configures the OpenAI-compatible chat model used by llm nodes
type LLMConfig struct {
	APIKey      string  `envconfig:"API_KEY"`
	BaseURL     string  `envconfig:"BASE_URL" default:"https://api.openai.com/v1"`
	Model       string  `envconfig:"MODEL" default:"gpt-4o-mini"`
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"1024"`
	Temperature float64 `envconfig:"TEMPERATURE" default:"0.2"`
}

// ConversationConfig controls conversation memory for llm nodes
type ConversationConfig struct {
	TTL      time.Duration `envconfig:"TTL" default:"1h"`
	MaxTurns int           `envconfig:"MAX_TURNS" default:"10"`
}
