package config

import (
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Queue    QueueConfig
	Compress CompressConfig
	Extract  ExtractConfig
	LLM      LLMConfig
	Publish  PublishConfig
	Ledger   LedgerConfig
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

// StoreConfig holds the S3-compatible object store connection info.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// QueueConfig holds the Redis stream used for event delivery.
type QueueConfig struct {
	RedisURL      string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	Stream        string
	Group         string
}

// CompressConfig bounds the compression stage.
type CompressConfig struct {
	TargetBytes int64         // hard ceiling for the encoded output
	MaxAttempts int           // scale search iterations
	Timeout     time.Duration // wall-clock budget per invocation
}

// ExtractConfig bounds the metadata extraction stage.
type ExtractConfig struct {
	MaxCorrections int           // schema correction retries after the first attempt
	MaxTransport   int           // LLM call attempts on transport failure
	Backoff        time.Duration // base backoff between transport attempts
	Timeout        time.Duration // wall-clock budget per invocation
}

type LLMConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Region    string
	MaxTokens int
	Timeout   time.Duration
}

type PublishConfig struct {
	Token  string
	Owner  string
	Repo   string
	Branch string
}

type LedgerConfig struct {
	Enabled bool
	URL     string
}

var (
	once     sync.Once
	instance *Config
)

func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		// Set default values
		viper.SetDefault("SERVER_PORT", "8080")
		viper.SetDefault("SERVER_MODE", "info")
		viper.SetDefault("SERVER_READ_TIMEOUT", 30)
		viper.SetDefault("SERVER_WRITE_TIMEOUT", 30)
		viper.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
		viper.SetDefault("STORE_ENDPOINT", "localhost:9000")
		viper.SetDefault("STORE_BUCKET", "georef")
		viper.SetDefault("STORE_REGION", "us-east-1")
		// The endpoint default targets a local MinIO, which serves plain HTTP.
		viper.SetDefault("STORE_USE_SSL", false)
		viper.SetDefault("REDIS_URL", "")
		viper.SetDefault("REDIS_HOST", "127.0.0.1")
		viper.SetDefault("REDIS_PORT", "6379")
		viper.SetDefault("REDIS_PASSWORD", "")
		viper.SetDefault("REDIS_DB", 0)
		viper.SetDefault("QUEUE_STREAM", "georef:events")
		viper.SetDefault("QUEUE_GROUP", "georef-workers")
		viper.SetDefault("COMPRESS_TARGET_BYTES", int64(3*1024*1024))
		viper.SetDefault("COMPRESS_MAX_ATTEMPTS", 8)
		viper.SetDefault("COMPRESS_TIMEOUT_SECONDS", 120)
		viper.SetDefault("EXTRACT_MAX_CORRECTIONS", 2)
		viper.SetDefault("EXTRACT_MAX_TRANSPORT", 3)
		viper.SetDefault("EXTRACT_BACKOFF_SECONDS", 2)
		viper.SetDefault("EXTRACT_TIMEOUT_SECONDS", 300)
		viper.SetDefault("LLM_BASE_URL", "https://api.anthropic.com")
		viper.SetDefault("LLM_MODEL", "claude-3-5-sonnet-latest")
		viper.SetDefault("LLM_REGION", "us-west-2")
		viper.SetDefault("LLM_MAX_TOKENS", 2048)
		viper.SetDefault("LLM_TIMEOUT_SECONDS", 90)
		viper.SetDefault("PUBLISH_BRANCH", "main")
		viper.SetDefault("LEDGER_ENABLED", false)
		viper.SetDefault("LEDGER_URL", "")

		// Read from environment variables
		viper.AutomaticEnv()

		instance = &Config{
			Server: ServerConfig{
				Port:           viper.GetString("SERVER_PORT"),
				Mode:           viper.GetString("SERVER_MODE"),
				ReadTimeout:    viper.GetInt("SERVER_READ_TIMEOUT"),
				WriteTimeout:   viper.GetInt("SERVER_WRITE_TIMEOUT"),
				AllowedOrigins: viper.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
			},
			Store: StoreConfig{
				Endpoint:  viper.GetString("STORE_ENDPOINT"),
				AccessKey: viper.GetString("STORE_ACCESS_KEY"),
				SecretKey: viper.GetString("STORE_SECRET_KEY"),
				Bucket:    viper.GetString("STORE_BUCKET"),
				Region:    viper.GetString("STORE_REGION"),
				UseSSL:    viper.GetBool("STORE_USE_SSL"),
			},
			Queue: QueueConfig{
				RedisURL:      viper.GetString("REDIS_URL"),
				RedisHost:     viper.GetString("REDIS_HOST"),
				RedisPort:     viper.GetString("REDIS_PORT"),
				RedisPassword: viper.GetString("REDIS_PASSWORD"),
				RedisDB:       viper.GetInt("REDIS_DB"),
				Stream:        viper.GetString("QUEUE_STREAM"),
				Group:         viper.GetString("QUEUE_GROUP"),
			},
			Compress: CompressConfig{
				TargetBytes: viper.GetInt64("COMPRESS_TARGET_BYTES"),
				MaxAttempts: viper.GetInt("COMPRESS_MAX_ATTEMPTS"),
				Timeout:     time.Duration(viper.GetInt("COMPRESS_TIMEOUT_SECONDS")) * time.Second,
			},
			Extract: ExtractConfig{
				MaxCorrections: viper.GetInt("EXTRACT_MAX_CORRECTIONS"),
				MaxTransport:   viper.GetInt("EXTRACT_MAX_TRANSPORT"),
				Backoff:        time.Duration(viper.GetInt("EXTRACT_BACKOFF_SECONDS")) * time.Second,
				Timeout:        time.Duration(viper.GetInt("EXTRACT_TIMEOUT_SECONDS")) * time.Second,
			},
			LLM: LLMConfig{
				BaseURL:   viper.GetString("LLM_BASE_URL"),
				APIKey:    viper.GetString("LLM_API_KEY"),
				Model:     viper.GetString("LLM_MODEL"),
				Region:    viper.GetString("LLM_REGION"),
				MaxTokens: viper.GetInt("LLM_MAX_TOKENS"),
				Timeout:   time.Duration(viper.GetInt("LLM_TIMEOUT_SECONDS")) * time.Second,
			},
			Publish: PublishConfig{
				Token:  viper.GetString("GITHUB_TOKEN"),
				Owner:  viper.GetString("GITHUB_OWNER"),
				Repo:   viper.GetString("GITHUB_REPO"),
				Branch: viper.GetString("PUBLISH_BRANCH"),
			},
			Ledger: LedgerConfig{
				Enabled: viper.GetBool("LEDGER_ENABLED"),
				URL:     viper.GetString("LEDGER_URL"),
			},
		}
	})

	return instance
}
