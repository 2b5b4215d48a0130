package config

import (
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		LLM:    LLMConfig{Provider: "simulated"},
		NLQ: NLQConfig{
			TimeoutMs:           8000,
			ConcurrentTimeoutMs: 5000,
			MaxRetries:          2,
			CacheMaxEntries:     1000,
			ConfidenceThreshold: 0.7,
			RateLimitPerHour:    100,
		},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"threshold", func(c *Config) { c.NLQ.ConfidenceThreshold = 1.5 }, "confidenceThreshold"},
		{"timeout", func(c *Config) { c.NLQ.TimeoutMs = 0 }, "timeouts"},
		{"openai key", func(c *Config) { c.LLM.Provider = "openai" }, "llm.apiKey"},
		{"provider", func(c *Config) { c.LLM.Provider = "bard" }, "unknown llm.provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadUsesEnvironment(t *testing.T) {
	t.Setenv("SCOUT_NLQ_TIMEOUTMS", "1234")
	t.Setenv("SCOUT_SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NLQ.TimeoutMs != 1234 {
		t.Fatalf("timeout = %d, want 1234", cfg.NLQ.TimeoutMs)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.NLQ.TokenBudget.PerUserPerHour != 50000 {
		t.Fatalf("token budget = %d, want default 50000", cfg.NLQ.TokenBudget.PerUserPerHour)
	}
}
