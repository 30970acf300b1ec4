package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultPersonaPrompt = "你是EvolveMe的AI教练，专注于帮助用户实现个人成长和目标达成。请以友好、专业、鼓励的语气回复用户。你具有长期记忆能力，能够记住用户之前的对话内容，并在回复中体现出对用户情况的了解和关注。**重要：你的所有回复都必须使用Markdown格式进行排版，以便于阅读。例如，使用`**标题**`、`- 列表`和`1. 数字列表`等。**"

// Config holds every runtime setting of the chat backend.
type Config struct {
	Port             string
	GinMode          string
	StoreBackend     string
	MetricsNamespace string

	Dynamo      DynamoConfig
	PostgresURI string
	SQLitePath  string

	LLM    LLMConfig
	Memory MemoryConfig
}

type DynamoConfig struct {
	Endpoint string
	Region   string
	Table    string
}

// LLMConfig configures the chat-completion collaborator.
type LLMConfig struct {
	Client      string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// MemoryConfig holds the memory injection policy.
type MemoryConfig struct {
	// RetrieveLimit is how many past user turns are considered per prompt.
	RetrieveLimit int
	// SimilarityThreshold must be strictly exceeded for a memory to be injected.
	SimilarityThreshold float64
	// ReplyExcerptRunes bounds the recalled assistant reply.
	ReplyExcerptRunes int
	PersonaPrompt     string
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		RetrieveLimit:       3,
		SimilarityThreshold: 0.3,
		ReplyExcerptRunes:   100,
		PersonaPrompt:       DefaultPersonaPrompt,
	}
}

func GetOpenAIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// Load reads the environment and applies defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:             envOrDefault("PORT", "8080"),
		GinMode:          envOrDefault("GIN_MODE", "debug"),
		StoreBackend:     envOrDefault("STORE_BACKEND", "dynamodb"),
		MetricsNamespace: envOrDefault("METRICS_NAMESPACE", "evolveme"),
		Dynamo: DynamoConfig{
			Endpoint: envOrDefault("DYNAMODB_ENDPOINT", "http://localhost:8000"),
			Region:   envOrDefault("DYNAMODB_REGION", "us-east-1"),
			Table:    envOrDefault("DYNAMODB_TABLE", "Conversations"),
		},
		PostgresURI: envOrDefault("POSTGRES_URI", "host=localhost port=5432 user=postgres password=postgres dbname=memorai sslmode=disable"),
		SQLitePath:  envOrDefault("SQLITE_PATH", "app.db"),
		LLM: LLMConfig{
			Client:  envOrDefault("LLM_CLIENT", "resty"),
			APIKey:  envOrDefault("LLM_API_KEY", GetOpenAIKey()),
			BaseURL: strings.TrimRight(envOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"), "/"),
			Model:   envOrDefault("LLM_MODEL", "gpt-4o-mini"),
		},
		Memory: DefaultMemoryConfig(),
	}

	var err error
	if cfg.LLM.Temperature, err = envFloat("LLM_TEMPERATURE", 0.7); err != nil {
		return Config{}, err
	}
	if cfg.LLM.MaxTokens, err = envInt("LLM_MAX_TOKENS", 1000); err != nil {
		return Config{}, err
	}
	if cfg.LLM.Timeout, err = envDuration("LLM_TIMEOUT", 55*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Memory.RetrieveLimit, err = envInt("MEMORY_RETRIEVE_LIMIT", cfg.Memory.RetrieveLimit); err != nil {
		return Config{}, err
	}
	if cfg.Memory.SimilarityThreshold, err = envFloat("MEMORY_SIMILARITY_THRESHOLD", cfg.Memory.SimilarityThreshold); err != nil {
		return Config{}, err
	}
	if cfg.Memory.ReplyExcerptRunes, err = envInt("MEMORY_REPLY_EXCERPT", cfg.Memory.ReplyExcerptRunes); err != nil {
		return Config{}, err
	}
	cfg.Memory.PersonaPrompt = envOrDefault("MEMORY_PERSONA_PROMPT", cfg.Memory.PersonaPrompt)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "dynamodb", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.LLM.Client {
	case "resty", "openai":
	default:
		return fmt.Errorf("unknown LLM_CLIENT %q", c.LLM.Client)
	}
	if c.Memory.RetrieveLimit < 0 {
		return fmt.Errorf("MEMORY_RETRIEVE_LIMIT must not be negative")
	}
	if c.Memory.ReplyExcerptRunes < 0 {
		return fmt.Errorf("MEMORY_REPLY_EXCERPT must not be negative")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
