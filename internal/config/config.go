package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultPrompt is what we send to the vision model unless VISION_PROMPT
// overrides it. The wording is deliberately rigid: the ingestion pipeline
// expects a bare JSON object and nothing else.
const DefaultPrompt = `List all ingredients in this fridge in JSON format {"ingredient":#,...} where # is the count. Example output: {"lime":5, "milk":1, "chicken":1, "soda":4}. Use generic names for branded items, like "kombucha" rather than "health_ade_kombucha". Focus on the core ingredient, and avoid any adjectives or modifiers. Prefer "milk" over "whole_milk". Only output JSON format. NO ADDITIONAL TEXT!`

// Config holds all configuration for the FridgeVision server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Vision   VisionConfig
	Worker   WorkerConfig
	Ingest   IngestConfig
	Recipes  RecipesConfig
}

type ServerConfig struct {
	Port              int
	Env               string
	RequestsPerMinute int
	AdminEmail        string
	AdminName         string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Backend string
	Bucket  string
	S3      S3Config
	BaseDir string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type VisionConfig struct {
	Provider         string
	Prompt           string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	OpenAI           OpenAIConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
}

type IngestConfig struct {
	RawOutputLimitBytes int
}

type RecipesConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

var validProviders = map[string]bool{
	"ollama": true,
	"openai": true,
}

var validBackends = map[string]bool{
	"s3":         true,
	"filesystem": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first if present.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("FRIDGEVISION_PORT", 8080),
			Env:               envString("FRIDGEVISION_ENV", "development"),
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			AdminEmail:        envString("ADMIN_EMAIL", "admin@example.com"),
			AdminName:         envString("ADMIN_NAME", "Admin"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Backend: envString("STORAGE_BACKEND", "filesystem"),
			Bucket:  envString("STORAGE_BUCKET", "fridge-snapshots"),
			S3: S3Config{
				Endpoint:  os.Getenv("S3_ENDPOINT"),
				AccessKey: os.Getenv("S3_ACCESS_KEY"),
				SecretKey: os.Getenv("S3_SECRET_KEY"),
				Region:    envString("S3_REGION", "us-east-1"),
				UseSSL:    envBool("S3_USE_SSL", true),
			},
			BaseDir: envString("STORAGE_BASE_DIR", "data"),
		},
		Vision: VisionConfig{
			Provider:         os.Getenv("VISION_PROVIDER"),
			Prompt:           envString("VISION_PROMPT", DefaultPrompt),
			InferenceTimeout: envDurationSecs("VISION_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llava"),
			},
			OpenAI: OpenAIConfig{
				APIKey:    os.Getenv("OPENAI_API_KEY"),
				BaseURL:   envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:     envString("OPENAI_MODEL", "gpt-4o-mini"),
				MaxTokens: envInt("OPENAI_MAX_TOKENS", 1000),
			},
		},
		Worker: WorkerConfig{
			Concurrency:  envInt("WORKER_CONCURRENCY", 2),
			PollInterval: envDuration("WORKER_POLL_INTERVAL", time.Second),
			MaxAttempts:  envInt("WORKER_MAX_ATTEMPTS", 2),
			BackoffBase:  envDuration("WORKER_BACKOFF_BASE", 5*time.Second),
		},
		Ingest: IngestConfig{
			RawOutputLimitBytes: envInt("INGEST_RAW_OUTPUT_LIMIT_BYTES", 16000),
		},
		Recipes: RecipesConfig{
			APIKey:  os.Getenv("SPOONACULAR_API_KEY"),
			BaseURL: envString("RECIPES_BASE_URL", "https://api.spoonacular.com"),
			Timeout: envDuration("RECIPES_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of s3, filesystem; got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" {
		if c.Storage.S3.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when STORAGE_BACKEND is s3")
		}
		if c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_BACKEND is s3")
		}
	}

	if c.Vision.Provider == "" {
		return fmt.Errorf("VISION_PROVIDER is required")
	}
	if !validProviders[c.Vision.Provider] {
		return fmt.Errorf("VISION_PROVIDER must be one of ollama, openai; got %q", c.Vision.Provider)
	}
	if c.Vision.Provider == "openai" && c.Vision.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when VISION_PROVIDER is openai")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
