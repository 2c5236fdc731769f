// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent backends.
const (
	BackendHTTP   = "http"
	BackendGRPC   = "grpc"
	BackendOpenAI = "openai"
	BackendStub   = "stub"
)

// Config holds all application configuration.
type Config struct {
	Port                string          `yaml:"port"`
	AppEnv              string          `yaml:"app_env"`
	FrontendURL         string          `yaml:"frontend_url"`
	AllowedOrigins      []string        `yaml:"allowed_origins"`
	MaxRequestBodyBytes int64           `yaml:"max_request_body_bytes"`
	LogLevel            string          `yaml:"log_level"`
	DB                  DBConfig        `yaml:"db"`
	Quota               QuotaConfig     `yaml:"quota"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	Agent               AgentConfig     `yaml:"agent"`
	OpenAI              OpenAIConfig    `yaml:"openai"`
	Auth                AuthConfig      `yaml:"auth"`
	Billing             BillingConfig   `yaml:"billing"`
}

// DBConfig selects the document store.
type DBConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

// QuotaConfig sets the daily message allowance per tier.
type QuotaConfig struct {
	FreePerDay    int           `yaml:"free_per_day"`
	ProPerDay     int           `yaml:"pro_per_day"`
	ProUserIDs    []string      `yaml:"pro_user_ids"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RateLimitConfig bounds request bursts per user.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AgentConfig selects and configures the remote agent.
type AgentConfig struct {
	Backend      string        `yaml:"backend"`
	Endpoint     string        `yaml:"endpoint"`
	Scope        string        `yaml:"scope"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	StaticToken  string        `yaml:"static_token"`
	GrpcAddr     string        `yaml:"grpc_addr"`
	GrpcMethod   string        `yaml:"grpc_method"`
}

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AuthConfig configures the identity resolver.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BillingConfig configures the checkout stub.
type BillingConfig struct {
	CheckoutURL string `yaml:"checkout_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:                "8080",
		AppEnv:              "development",
		MaxRequestBodyBytes: 1 << 20,
		LogLevel:            "info",
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "./data/pilotchat.db",
		},
		Quota: QuotaConfig{
			FreePerDay:    25,
			ProPerDay:     250,
			SweepInterval: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 5,
		},
		Agent: AgentConfig{
			Backend: BackendHTTP,
			Timeout: 60 * time.Second,
		},
		Billing: BillingConfig{
			CheckoutURL: "https://billing.stripe.com/p/test-placeholder",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.MaxRequestBodyBytes = int64(getEnvInt("MAX_REQUEST_BODY_BYTES", int(c.MaxRequestBodyBytes)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.DB.Driver = getEnv("DB_DRIVER", c.DB.Driver)
	c.DB.Path = getEnv("DB_PATH", c.DB.Path)
	c.DB.URL = getEnv("DATABASE_URL", c.DB.URL)

	c.Quota.FreePerDay = getEnvInt("FREE_MESSAGES_PER_DAY", c.Quota.FreePerDay)
	c.Quota.ProPerDay = getEnvInt("PRO_MESSAGES_PER_DAY", c.Quota.ProPerDay)
	c.Quota.ProUserIDs = getEnvList("PRO_USER_IDS", c.Quota.ProUserIDs)
	c.Quota.SweepInterval = getEnvDuration("QUOTA_SWEEP_INTERVAL", c.Quota.SweepInterval)

	c.RateLimit.RPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Agent.Backend = strings.ToLower(getEnv("AGENT_BACKEND", c.Agent.Backend))
	c.Agent.Endpoint = getEnv("AGENT_RESPONSES_ENDPOINT", c.Agent.Endpoint)
	c.Agent.Scope = getEnv("AGENT_SCOPE", c.Agent.Scope)
	c.Agent.Model = getEnv("AGENT_MODEL", c.Agent.Model)
	c.Agent.Timeout = getEnvDuration("AGENT_TIMEOUT", c.Agent.Timeout)
	c.Agent.TokenURL = getEnv("AGENT_TOKEN_URL", c.Agent.TokenURL)
	c.Agent.ClientID = getEnv("AGENT_CLIENT_ID", c.Agent.ClientID)
	c.Agent.ClientSecret = getEnv("AGENT_CLIENT_SECRET", c.Agent.ClientSecret)
	c.Agent.StaticToken = getEnv("AGENT_STATIC_TOKEN", c.Agent.StaticToken)
	c.Agent.GrpcAddr = getEnv("AGENT_GRPC_ADDR", c.Agent.GrpcAddr)
	c.Agent.GrpcMethod = getEnv("AGENT_GRPC_METHOD", c.Agent.GrpcMethod)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Model = getEnv("OPENAI_MODEL", c.OpenAI.Model)

	c.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", c.Auth.JWTSecret)
	c.Billing.CheckoutURL = getEnv("BILLING_CHECKOUT_URL", c.Billing.CheckoutURL)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL cannot be empty when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.Quota.FreePerDay <= 0 {
		return fmt.Errorf("FREE_MESSAGES_PER_DAY must be > 0")
	}
	if c.Quota.ProPerDay <= 0 {
		return fmt.Errorf("PRO_MESSAGES_PER_DAY must be > 0")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}

	switch c.Agent.Backend {
	case BackendHTTP:
		if c.Agent.Endpoint == "" {
			return fmt.Errorf("AGENT_RESPONSES_ENDPOINT cannot be empty for the http backend")
		}
		if c.Agent.StaticToken == "" && (c.Agent.TokenURL == "" || c.Agent.ClientID == "") {
			return fmt.Errorf("set AGENT_STATIC_TOKEN or AGENT_TOKEN_URL and AGENT_CLIENT_ID for the http backend")
		}
	case BackendGRPC:
		if c.Agent.GrpcAddr == "" {
			return fmt.Errorf("AGENT_GRPC_ADDR cannot be empty for the grpc backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY cannot be empty for the openai backend")
		}
	case BackendStub:
	default:
		return fmt.Errorf("AGENT_BACKEND must be one of http, grpc, openai, stub; got %q", c.Agent.Backend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if strings.EqualFold(c.AppEnv, "development") {
		return true
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// Origins returns the CORS origins, falling back to FrontendURL.
func (c *Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	if c.FrontendURL != "" {
		return []string{c.FrontendURL}
	}
	return []string{"http://localhost:5173", "http://localhost:8080"}
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
