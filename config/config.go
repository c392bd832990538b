package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	SourceEDGAR = "edgar"
	SourceLocal = "local"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Neo4j      Neo4jConfig      `yaml:"neo4j" mapstructure:"neo4j"`
	Embeddings EmbeddingConfig  `yaml:"embeddings" mapstructure:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Ollama     OllamaConfig     `yaml:"ollama" mapstructure:"ollama"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Edgar      EdgarConfig      `yaml:"edgar" mapstructure:"edgar"`
	Chunker    ChunkerConfig    `yaml:"chunker" mapstructure:"chunker"`
	Ingestion  IngestionConfig  `yaml:"ingestion" mapstructure:"ingestion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" mapstructure:"retrieval"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// Neo4jConfig enables the knowledge graph when URI is set.
type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Model     string `yaml:"model" mapstructure:"model"`
	Dimension int    `yaml:"dimension" mapstructure:"dimension"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider" mapstructure:"provider"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

type OllamaConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
}

type AnthropicConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// EdgarConfig controls where raw filings come from.
type EdgarConfig struct {
	Source    string  `yaml:"source" mapstructure:"source"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	DataURL   string  `yaml:"data_url" mapstructure:"data_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	LocalDir  string  `yaml:"local_dir" mapstructure:"local_dir"`
}

type ChunkerConfig struct {
	MaxChars int `yaml:"max_chars" mapstructure:"max_chars"`
}

type IngestionConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// RetrievalConfig tunes query-time ranking.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k" mapstructure:"top_k"`
	MinScore        float64 `yaml:"min_score" mapstructure:"min_score"`
	Rerank          bool    `yaml:"rerank" mapstructure:"rerank"`
	CandidateFactor int     `yaml:"candidate_factor" mapstructure:"candidate_factor"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml (optional), .env (optional) and FILINGS_* environment
// overrides on top of the defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FILINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys are usually exported without the prefix.
	_ = v.BindEnv("openai.api_key", "FILINGS_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic.api_key", "FILINGS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("store.database_url", "FILINGS_STORE_DATABASE_URL", "POSTGRES_DSN")
	_ = v.BindEnv("neo4j.uri", "FILINGS_NEO4J_URI", "NEO4J_URI")
	_ = v.BindEnv("neo4j.username", "FILINGS_NEO4J_USERNAME", "NEO4J_USERNAME")
	_ = v.BindEnv("neo4j.password", "FILINGS_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	_ = v.BindEnv("ollama.host", "FILINGS_OLLAMA_HOST", "OLLAMA_HOST")

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.database_url", "postgres://localhost:5432/filing-agent?sslmode=disable")
	v.SetDefault("store.sqlite_path", "filings.db")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("embeddings.provider", ProviderOllama)
	v.SetDefault("embeddings.model", "nomic-embed-text")
	v.SetDefault("embeddings.dimension", 768)
	v.SetDefault("llm.provider", ProviderOllama)
	v.SetDefault("llm.model", "llama3.1")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("ollama.host", "http://localhost:11434")
	v.SetDefault("edgar.source", SourceEDGAR)
	v.SetDefault("edgar.base_url", "https://www.sec.gov")
	v.SetDefault("edgar.data_url", "https://data.sec.gov")
	v.SetDefault("edgar.user_agent", "filing-agent admin@example.com")
	v.SetDefault("edgar.rate_limit", 10.0)
	v.SetDefault("edgar.local_dir", "data/filings")
	v.SetDefault("chunker.max_chars", 1500)
	v.SetDefault("ingestion.concurrency", 4)
	v.SetDefault("retrieval.top_k", 8)
	v.SetDefault("retrieval.min_score", 0.2)
	v.SetDefault("retrieval.rerank", false)
	v.SetDefault("retrieval.candidate_factor", 3)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 10*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot enforce.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Embeddings.Dimension <= 0 {
		return eris.New("config: embeddings.dimension must be positive")
	}
	if c.Chunker.MaxChars <= 0 {
		return eris.New("config: chunker.max_chars must be positive")
	}
	switch c.Edgar.Source {
	case SourceEDGAR, SourceLocal:
	default:
		return eris.Errorf("config: unknown edgar source %q", c.Edgar.Source)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
