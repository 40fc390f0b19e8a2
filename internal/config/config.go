package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultConfigPath = "/app/config/engine.yaml"

// Config is the complete engine configuration. Every component receives the
// section it needs through its constructor.
type Config struct {
	Environment string           `mapstructure:"environment"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	Redis       RedisConfig      `mapstructure:"redis"`
	LLM         LLMConfig        `mapstructure:"llm"`
	Tools       ToolsConfig      `mapstructure:"tools"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Embeddings  EmbeddingsConfig `mapstructure:"embeddings"`
	Workflow    WorkflowConfig   `mapstructure:"workflow"`
	Pricing     PricingConfig    `mapstructure:"pricing"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Streaming   StreamingConfig  `mapstructure:"streaming"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
	Metrics     MetricsConfig    `mapstructure:"metrics"`
}

type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// ConnectionString returns a lib/pq keyword/value DSN.
func (p PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LLMConfig holds provider credentials and call limits.
type LLMConfig struct {
	OpenAIAPIKey     string         `mapstructure:"openai_api_key"`
	OpenAIBaseURL    string         `mapstructure:"openai_base_url"`
	AnthropicAPIKey  string         `mapstructure:"anthropic_api_key"`
	AnthropicBaseURL string         `mapstructure:"anthropic_base_url"`
	GoogleAPIKey     string         `mapstructure:"google_api_key"`
	GeminiBaseURL    string         `mapstructure:"gemini_base_url"`
	CallTimeout      time.Duration  `mapstructure:"call_timeout"`
	RateLimitsRPM    map[string]int `mapstructure:"rate_limits_rpm"`
}

type ToolsConfig struct {
	PerplexityAPIKey  string        `mapstructure:"perplexity_api_key"`
	PerplexityBaseURL string        `mapstructure:"perplexity_base_url"`
	PerplexityModel   string        `mapstructure:"perplexity_model"`
	ResearchTimeout   time.Duration `mapstructure:"research_timeout"`
	ImageModel        string        `mapstructure:"image_model"`
	ImageSize         string        `mapstructure:"image_size"`
	ImageStyle        string        `mapstructure:"image_style"`
}

type StorageConfig struct {
	SupabaseURL  string        `mapstructure:"supabase_url"`
	ServiceKey   string        `mapstructure:"service_key"`
	OutputBucket string        `mapstructure:"output_bucket"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type EmbeddingsConfig struct {
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	MaxLRU   int           `mapstructure:"max_lru"`
}

// WorkflowConfig tunes the executor.
type WorkflowConfig struct {
	// PersistPartialTelemetry stores tokens and cost accrued before a failure.
	PersistPartialTelemetry bool    `mapstructure:"persist_partial_telemetry"`
	OutputLanguage          string  `mapstructure:"output_language"`
	ArchiveLimit            int     `mapstructure:"archive_limit"`
	Temperature             float64 `mapstructure:"temperature"`
	MaxTokens               int     `mapstructure:"max_tokens"`
}

type PricingConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	SkipAuth  bool   `mapstructure:"skip_auth"`
}

type StreamingConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	RedisMirror bool          `mapstructure:"redis_mirror"`
	Retention   time.Duration `mapstructure:"retention"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("http.port", 8081)

	v.SetDefault("postgres.host", "postgres")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "cgs")
	v.SetDefault("postgres.password", "cgs")
	v.SetDefault("postgres.database", "cgs")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_connections", 25)
	v.SetDefault("postgres.idle_connections", 5)
	v.SetDefault("postgres.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("llm.google_api_key", "")
	v.SetDefault("llm.gemini_base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("llm.call_timeout", 120*time.Second)
	v.SetDefault("llm.rate_limits_rpm", map[string]int{"openai": 60, "anthropic": 50, "gemini": 60})

	v.SetDefault("tools.perplexity_api_key", "")
	v.SetDefault("tools.perplexity_base_url", "https://api.perplexity.ai")
	v.SetDefault("tools.perplexity_model", "sonar")
	v.SetDefault("tools.research_timeout", 30*time.Second)
	v.SetDefault("tools.image_model", "dall-e-3")
	v.SetDefault("tools.image_size", "1024x1024")
	v.SetDefault("tools.image_style", "vivid")

	v.SetDefault("storage.supabase_url", "")
	v.SetDefault("storage.service_key", "")
	v.SetDefault("storage.output_bucket", "outputs")
	v.SetDefault("storage.signed_url_ttl", time.Hour)
	v.SetDefault("storage.timeout", 30*time.Second)

	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", 10*time.Second)
	v.SetDefault("embeddings.cache_ttl", time.Hour)
	v.SetDefault("embeddings.max_lru", 2048)

	v.SetDefault("workflow.persist_partial_telemetry", false)
	v.SetDefault("workflow.output_language", "English")
	v.SetDefault("workflow.archive_limit", 5)
	v.SetDefault("workflow.temperature", 0.7)
	v.SetDefault("workflow.max_tokens", 4096)

	v.SetDefault("pricing.file", "")
	v.SetDefault("pricing.watch", true)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.skip_auth", false)

	v.SetDefault("streaming.capacity", 256)
	v.SetDefault("streaming.redis_mirror", false)
	v.SetDefault("streaming.retention", 5*time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "cgs-engine")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
}

// conventional variable names accepted next to the CGS_ prefixed ones
var legacyEnv = map[string]string{
	"postgres.host":            "POSTGRES_HOST",
	"postgres.port":            "POSTGRES_PORT",
	"postgres.user":            "POSTGRES_USER",
	"postgres.password":        "POSTGRES_PASSWORD",
	"postgres.database":        "POSTGRES_DB",
	"postgres.sslmode":         "POSTGRES_SSLMODE",
	"redis.addr":               "REDIS_ADDR",
	"llm.openai_api_key":       "OPENAI_API_KEY",
	"llm.anthropic_api_key":    "ANTHROPIC_API_KEY",
	"llm.google_api_key":       "GOOGLE_API_KEY",
	"tools.perplexity_api_key": "PERPLEXITY_API_KEY",
	"storage.supabase_url":     "SUPABASE_URL",
	"storage.service_key":      "SUPABASE_SERVICE_ROLE_KEY",
	"auth.jwt_secret":          "SUPABASE_JWT_SECRET",
	"pricing.file":             "MODELS_CONFIG_PATH",
}

// Load reads CONFIG_PATH (default /app/config/engine.yaml) and applies
// CGS_* environment overrides, e.g. CGS_POSTGRES_HOST for postgres.host.
// A missing default file is not an error; a missing explicit file is.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "CGS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfgPath := os.Getenv("CONFIG_PATH")
	explicit := cfgPath != ""
	if !explicit {
		cfgPath = defaultConfigPath
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would make the engine unusable.
func (c *Config) Validate() error {
	if c.Postgres.Host == "" {
		return errors.New("postgres.host is required")
	}
	if c.Postgres.Port <= 0 {
		return fmt.Errorf("postgres.port must be positive, got %d", c.Postgres.Port)
	}
	if c.LLM.CallTimeout <= 0 {
		return errors.New("llm.call_timeout must be positive")
	}
	if c.Workflow.ArchiveLimit < 0 {
		return errors.New("workflow.archive_limit must be >= 0")
	}
	if c.Workflow.Temperature < 0 || c.Workflow.Temperature > 2 {
		return fmt.Errorf("workflow.temperature out of range: %v", c.Workflow.Temperature)
	}
	return nil
}
