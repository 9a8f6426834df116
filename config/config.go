package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process-level configuration: connections, endpoints and
// model routing. Runtime behaviour toggles (prompts, processors, strategy)
// live in ActiveConfig, which is persisted in the blob container and editable
// from the admin surface.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Index      IndexConfig      `mapstructure:"index"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Analyzer   AnalyzerConfig   `mapstructure:"analyzer"`
	Safety     SafetyConfig     `mapstructure:"safety"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Search     SearchConfig     `mapstructure:"search"`
	Admin      AdminConfig      `mapstructure:"admin"`
	PromptFlow PromptFlowConfig `mapstructure:"prompt_flow"`
}

// PromptFlowConfig points at the remote prompt-flow deployment used when the
// orchestrator strategy delegates whole turns.
type PromptFlowConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GeneralConfig contains server-wide settings.
type GeneralConfig struct {
	Listen         string        `mapstructure:"listen"`
	Debug          bool          `mapstructure:"debug"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
}

// LLMConfig points at the chat-completion and embedding deployments.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// IndexConfig configures the Postgres/pgvector chunk index.
type IndexConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// LexicalPath is where the bleve sidecar index lives; empty selects an
	// in-memory index (tests, single-node dev).
	LexicalPath string `mapstructure:"lexical_path"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// DSN assembles a Postgres connection string from either the URL or the
// discrete fields.
func (c IndexConfig) DSN() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if c.Host == "" || c.DBName == "" {
		return "", fmt.Errorf("index not configured (index.host/dbname or index.url)")
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, port, c.DBName, ssl), nil
}

// BlobConfig configures the managed document container.
type BlobConfig struct {
	Root          string        `mapstructure:"root"`
	ContainerHost string        `mapstructure:"container_host"`
	TokenSecret   string        `mapstructure:"token_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
}

// AnalyzerConfig points at the document-analysis service.
type AnalyzerConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SafetyConfig points at the content-safety classifier.
type SafetyConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RedisConfig configures the ingestion stream and scheduler locks.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

// Addr returns host:port for the redis client.
func (c RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", c.Host, c.Port) }

// IngestionConfig drives the queue consumer and rescan scheduler.
type IngestionConfig struct {
	Stream       string `mapstructure:"stream"`
	Group        string `mapstructure:"group"`
	RescanCron   string `mapstructure:"rescan_cron"`
	MaxBatchSize int    `mapstructure:"max_batch_size"`
}

// SearchConfig carries the retrieval knobs shared by all search modes.
type SearchConfig struct {
	TopK   int    `mapstructure:"top_k"`
	Filter string `mapstructure:"filter"`
	Mode   string `mapstructure:"mode"`
}

// AdminConfig gates the admin endpoints.
type AdminConfig struct {
	Email        string `mapstructure:"email"`
	PasswordHash string `mapstructure:"password_hash"`
}

// LoadConfig loads config from file, with DOCCHAT_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", ":8505")
	viper.SetDefault("general.default_timeout", 90*time.Second)
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.completion_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.max_tokens", 1000)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("index.batch_size", 100)
	viper.SetDefault("blob.token_ttl", 15*time.Minute)
	viper.SetDefault("ingestion.stream", "docchat:ingest")
	viper.SetDefault("ingestion.group", "ingesters")
	viper.SetDefault("ingestion.max_batch_size", 16)
	viper.SetDefault("search.top_k", 4)
	viper.SetDefault("search.mode", "hybrid")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DOCCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
