// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables always win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LLM        LLMConfig        `mapstructure:"llm"`
	WebSearch  WebSearchConfig  `mapstructure:"web_search"`
	Reranker   RerankerConfig   `mapstructure:"reranker"`
	Email      EmailConfig      `mapstructure:"email"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Session    SessionConfig    `mapstructure:"session"`
}

// ServiceConfig contains HTTP server settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig selects the relational backend and pool sizing.
type DatabaseConfig struct {
	Type          string        `mapstructure:"type"` // sqlite or postgresql
	URL           string        `mapstructure:"url"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	PoolSize      int           `mapstructure:"pool_size"`
	MaxOverflow   int           `mapstructure:"max_overflow"`
	PoolTimeout   time.Duration `mapstructure:"pool_timeout"`
	PoolRecycle   time.Duration `mapstructure:"pool_recycle"`
	Echo          bool          `mapstructure:"echo"`
	VectorDataDir string        `mapstructure:"vector_data_dir"`
}

// RedisConfig configures the optional redis backend for caches.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig contains token and registration settings.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
	BcryptCost        int           `mapstructure:"bcrypt_cost"`
	BcryptWorkers     int           `mapstructure:"bcrypt_workers"`
	CodeTTL           time.Duration `mapstructure:"code_ttl"`
	MasterKey         string        `mapstructure:"master_key"`
}

// EmbeddingsConfig configures the default embedding provider. Per-user
// provider settings layered on top come from the runtime config store.
type EmbeddingsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	BatchSize int           `mapstructure:"batch_size"`
}

// LLMConfig configures the default chat provider.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
}

// WebSearchConfig configures the web search collaborator.
type WebSearchConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxResults int           `mapstructure:"max_results"`
}

// RerankerConfig configures the optional reranker collaborator.
type RerankerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	InitTimeout time.Duration `mapstructure:"init_timeout"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// EmailConfig configures the SMTP collaborator for verification codes.
type EmailConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	From     string        `mapstructure:"from"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// VectorConfig tunes chunking and retrieval.
type VectorConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkOverlap      int           `mapstructure:"chunk_overlap"`
	MinChunkSize      int           `mapstructure:"min_chunk_size"`
	MaxChunkSize      int           `mapstructure:"max_chunk_size"`
	TopK              int           `mapstructure:"top_k"`
	RerankTopK        int           `mapstructure:"rerank_top_k"`
	TwoLevelThreshold int           `mapstructure:"two_level_threshold"`
	SimilarityFloor   float64       `mapstructure:"similarity_floor"`
	CacheSimThreshold float64       `mapstructure:"cache_similarity_threshold"`
	SemanticCacheTTL  time.Duration `mapstructure:"semantic_cache_ttl"`
	SemanticCacheMax  int           `mapstructure:"semantic_cache_max"`
}

// SessionConfig tunes conversation lifecycle.
type SessionConfig struct {
	ExpiryDays      int           `mapstructure:"expiry_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Load reads CONFIG_PATH (optional) and applies environment overrides.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnv(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.read_timeout", 30*time.Second)
	v.SetDefault("service.write_timeout", 180*time.Second)
	v.SetDefault("service.graceful_timeout", 15*time.Second)
	v.SetDefault("service.max_upload_bytes", int64(50<<20))

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.sqlite_path", "data/ragcore.db")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.max_overflow", 20)
	v.SetDefault("database.pool_timeout", 5*time.Second)
	v.SetDefault("database.pool_recycle", time.Hour)
	v.SetDefault("database.vector_data_dir", "data/vectors")

	v.SetDefault("auth.access_token_expiry", 8*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.bcrypt_workers", 4)
	v.SetDefault("auth.code_ttl", 360*time.Second)

	v.SetDefault("embeddings.timeout", 60*time.Second)
	v.SetDefault("embeddings.cache_size", 200)
	v.SetDefault("embeddings.batch_size", 100)
	v.SetDefault("embeddings.model", "text-embedding-3-small")

	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.rate_per_sec", 5.0)

	v.SetDefault("web_search.timeout", 30*time.Second)
	v.SetDefault("web_search.max_results", 3)

	v.SetDefault("reranker.init_timeout", 15*time.Second)
	v.SetDefault("reranker.timeout", 30*time.Second)

	v.SetDefault("email.port", 587)
	v.SetDefault("email.timeout", 30*time.Second)

	v.SetDefault("vector.chunk_size", 1000)
	v.SetDefault("vector.chunk_overlap", 200)
	v.SetDefault("vector.min_chunk_size", 100)
	v.SetDefault("vector.max_chunk_size", 2000)
	v.SetDefault("vector.top_k", 10)
	v.SetDefault("vector.rerank_top_k", 5)
	v.SetDefault("vector.two_level_threshold", 1000)
	v.SetDefault("vector.cache_similarity_threshold", 0.95)
	v.SetDefault("vector.semantic_cache_ttl", time.Hour)
	v.SetDefault("vector.semantic_cache_max", 1000)

	v.SetDefault("session.expiry_days", 30)
	v.SetDefault("session.cleanup_interval", time.Hour)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// legacy names kept for deployment compatibility
	_ = v.BindEnv("service.port", "PORT")
	_ = v.BindEnv("database.type", "DATABASE_TYPE")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.sqlite_path", "SQLITE_PATH")
	_ = v.BindEnv("database.pool_size", "DB_POOL_SIZE")
	_ = v.BindEnv("database.max_overflow", "DB_MAX_OVERFLOW")
	_ = v.BindEnv("database.pool_timeout", "DB_POOL_TIMEOUT")
	_ = v.BindEnv("database.pool_recycle", "DB_POOL_RECYCLE")
	_ = v.BindEnv("database.echo", "DB_ECHO")
	_ = v.BindEnv("database.vector_data_dir", "VECTOR_DATA_DIR")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.master_key", "MASTER_ENCRYPTION_KEY")
	_ = v.BindEnv("embeddings.base_url", "EMBEDDING_BASE_URL")
	_ = v.BindEnv("embeddings.api_key", "EMBEDDING_API_KEY")
	_ = v.BindEnv("embeddings.model", "EMBEDDING_MODEL")
	_ = v.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = v.BindEnv("llm.model", "LLM_MODEL")
	_ = v.BindEnv("web_search.base_url", "WEB_SEARCH_BASE_URL")
	_ = v.BindEnv("web_search.api_key", "WEB_SEARCH_API_KEY")
	_ = v.BindEnv("email.host", "EMAIL_HOST")
	_ = v.BindEnv("email.port", "EMAIL_PORT")
	_ = v.BindEnv("email.from", "EMAIL_FROM")
	_ = v.BindEnv("email.password", "EMAIL_PASSWORD")
}

// Validate checks settings that would otherwise fail far from startup.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgresql":
	default:
		return fmt.Errorf("database.type must be sqlite or postgresql, got %q", c.Database.Type)
	}
	if c.Database.Type == "postgresql" && c.Database.URL == "" {
		return fmt.Errorf("database.url is required when database.type is postgresql")
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret (JWT_SECRET) is required")
	}
	if c.Vector.ChunkOverlap >= c.Vector.ChunkSize {
		return fmt.Errorf("vector.chunk_overlap must be smaller than vector.chunk_size")
	}
	if c.Vector.CacheSimThreshold <= 0 || c.Vector.CacheSimThreshold > 1 {
		return fmt.Errorf("vector.cache_similarity_threshold must be in (0, 1]")
	}
	if c.Session.ExpiryDays <= 0 {
		return fmt.Errorf("session.expiry_days must be positive")
	}
	return nil
}
