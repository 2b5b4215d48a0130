package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	SQLite   SQLiteConfig
	Redis    RedisConfig
	LLM      LLMConfig
	NLQ      NLQConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins string
	Development    bool

	// RequestsPerMinute caps API calls per client ahead of the NLQ quota.
	// Zero disables the HTTP limiter.
	RequestsPerMinute int
}

// DatabaseConfig points at the Postgres instance serving the gold views.
// An empty URL disables chart data and live insights.
type DatabaseConfig struct {
	URL string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	// SimulatedDelayMs is the upper bound of the simulated provider latency.
	SimulatedDelayMs int
}

type NLQConfig struct {
	TimeoutMs           int
	ConcurrentTimeoutMs int
	MaxRetries          int
	BaseDelayMs         int
	MaxDelayMs          int
	CacheTTLSeconds     int
	CacheMaxEntries     int
	ConfidenceThreshold float64
	RateLimitPerHour    int
	RateLimitWindowSec  int
	InsightCacheTTLSec  int
	TokenBudget         TokenBudgetConfig
}

type TokenBudgetConfig struct {
	PerRequest     int
	PerUserPerHour int
}

type MetricsConfig struct {
	Secret string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scout-nlq")

	v.SetEnvPrefix("SCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestsPerMinute < 0 {
		problems = append(problems, "server.requestsPerMinute must not be negative")
	}
	if c.NLQ.ConfidenceThreshold < 0 || c.NLQ.ConfidenceThreshold > 1 {
		problems = append(problems, "nlq.confidenceThreshold must be within [0,1]")
	}
	if c.NLQ.TimeoutMs <= 0 || c.NLQ.ConcurrentTimeoutMs <= 0 {
		problems = append(problems, "nlq timeouts must be positive")
	}
	if c.NLQ.MaxRetries < 0 {
		problems = append(problems, "nlq.maxRetries must not be negative")
	}
	if c.NLQ.CacheMaxEntries <= 0 {
		problems = append(problems, "nlq.cacheMaxEntries must be positive")
	}
	if c.NLQ.RateLimitPerHour <= 0 {
		problems = append(problems, "nlq.rateLimitPerHour must be positive")
	}
	switch c.LLM.Provider {
	case "simulated":
	case "openai":
		if c.LLM.APIKey == "" {
			problems = append(problems, "llm.apiKey is required for the openai provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown llm.provider %q", c.LLM.Provider))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (n NLQConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

func (n NLQConfig) ConcurrentTimeout() time.Duration {
	return time.Duration(n.ConcurrentTimeoutMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", "*")
	v.SetDefault("server.requestsPerMinute", 120)
	v.SetDefault("server.development", false)

	v.SetDefault("database.url", "")

	v.SetDefault("sqlite.path", "./data/nlq_history.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.provider", "simulated")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.simulatedDelayMs", 300)

	v.SetDefault("nlq.timeoutMs", 8000)
	v.SetDefault("nlq.concurrentTimeoutMs", 5000)
	v.SetDefault("nlq.maxRetries", 2)
	v.SetDefault("nlq.baseDelayMs", 500)
	v.SetDefault("nlq.maxDelayMs", 10000)
	v.SetDefault("nlq.cacheTTLSeconds", 300)
	v.SetDefault("nlq.cacheMaxEntries", 1000)
	v.SetDefault("nlq.confidenceThreshold", 0.7)
	v.SetDefault("nlq.rateLimitPerHour", 100)
	v.SetDefault("nlq.rateLimitWindowSec", 3600)
	v.SetDefault("nlq.insightCacheTTLSec", 300)
	v.SetDefault("nlq.tokenBudget.perRequest", 2000)
	v.SetDefault("nlq.tokenBudget.perUserPerHour", 50000)

	v.SetDefault("metrics.secret", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
