package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

// Backends lists the supported model backends.
var Backends = []string{BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI}

// Config holds application configuration
type Config struct {
	// Server
	Addr           string        `env:"TAXCHAT_ADDR" envDefault:":3000"`
	RequestTimeout time.Duration `env:"TAXCHAT_REQUEST_TIMEOUT" envDefault:"30s"`
	RateLimit      float64       `env:"TAXCHAT_RATE_LIMIT" envDefault:"5"` // requests per second, 0 disables
	RateBurst      int           `env:"TAXCHAT_RATE_BURST" envDefault:"10"`
	CacheTTL       time.Duration `env:"TAXCHAT_CACHE_TTL" envDefault:"0s"` // 0 disables

	// Canned answers and streaming
	Region       string        `env:"TAXCHAT_REGION" envDefault:"us"`
	ChunkSize    int           `env:"TAXCHAT_CHUNK_SIZE" envDefault:"100"`
	ChunkDelay   time.Duration `env:"TAXCHAT_CHUNK_DELAY" envDefault:"10ms"`
	PromptTokens float64       `env:"TAXCHAT_PROMPT_TOKENS" envDefault:"100"`

	// Model backend
	Backend         string `env:"TAXCHAT_BACKEND" envDefault:"openai"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GrokAPIKey      string `env:"GROK_API_KEY"`
	GrokBaseURL     string `env:"GROK_BASE_URL" envDefault:"https://api.x.ai/v1"`
	GrokModel       string `env:"GROK_MODEL" envDefault:"grok-2-latest"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicURL    string `env:"ANTHROPIC_URL" envDefault:"https://api.anthropic.com/v1/messages"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-20250514"`
	MaxTokens       int    `env:"TAXCHAT_MAX_TOKENS" envDefault:"1024"`
	OllamaURL       string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaModel     string `env:"OLLAMA_MODEL" envDefault:"llama3:latest"` // format: model:version

	// Terminal client
	ServerURL     string        `env:"TAXCHAT_SERVER_URL" envDefault:"http://localhost:3000/api/chat"`
	StorageDriver string        `env:"TAXCHAT_STORAGE" envDefault:"sqlite"`
	StoragePath   string        `env:"TAXCHAT_STORAGE_PATH" envDefault:"data/taxchat.db"`
	UploadDelay   time.Duration `env:"TAXCHAT_UPLOAD_DELAY" envDefault:"1500ms"`
	TypingDelay   time.Duration `env:"TAXCHAT_TYPING_DELAY" envDefault:"1s"`
	Width         int           `env:"TAXCHAT_WIDTH" envDefault:"80"`

	// Logging
	LogDir string `env:"TAXCHAT_LOG_DIR" envDefault:"logs"`
	Debug  bool   `env:"TAXCHAT_DEBUG"`
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden.
func (c Config) Validate() error {
	known := false
	for _, b := range Backends {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkDelay < 0 || c.UploadDelay < 0 || c.TypingDelay < 0 {
		return errors.New("delays must not be negative")
	}
	return nil
}
