package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration, assembled with a
// three-layer priority: defaults (lowest), environment variables
// (medium), functional options (highest). Struct tags carry the
// default and an environment variable name for each field;
// LoadFromEnv says which of those variables it reads.
type Config struct {
	LogLevel  string `env:"DETECTFORGE_LOG_LEVEL" default:"info"`
	LogFormat string `env:"DETECTFORGE_LOG_FORMAT" default:"json"`

	StorePath string `env:"DETECTFORGE_DB_PATH" default:"./detectforge.db"`
	RedisURL  string `env:"DETECTFORGE_REDIS_URL"`

	PlaybookDir string `env:"DETECTFORGE_PLAYBOOK_DIR" default:"./playbooks"`
	AdapterDir  string `env:"DETECTFORGE_ADAPTER_DIR" default:"./adapters"`

	DefaultAutomationLevel string `env:"DETECTFORGE_DEFAULT_LEVEL" default:"L0"`
	EnableL2               bool   `env:"DETECTFORGE_ENABLE_L2" default:"false"`

	WebhookHost string `env:"DETECTFORGE_WEBHOOK_HOST" default:"0.0.0.0"`
	WebhookPort int    `env:"DETECTFORGE_WEBHOOK_PORT" default:"8443"`
	HMACSecret  string `env:"DETECTFORGE_HMAC_SECRET"`

	LLMEndpoint  string `env:"DETECTFORGE_LLM_ENDPOINT"`
	LLMAPIKey    string `env:"DETECTFORGE_LLM_API_KEY"`
	LLMModel     string `env:"DETECTFORGE_LLM_MODEL"`
	LLMTimeout   time.Duration `env:"DETECTFORGE_LLM_TIMEOUT" default:"10s"`
	LLMMaxTokens int    `env:"DETECTFORGE_LLM_MAX_TOKENS" default:"1024"`

	RetryMaxAttempts  int  `env:"DETECTFORGE_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBackoffMS    int  `env:"DETECTFORGE_RETRY_BACKOFF_MS" default:"500"`
	RetryMaxBackoffMS int  `env:"DETECTFORGE_RETRY_MAX_BACKOFF_MS" default:"30000"`
	RetryExponential  bool `env:"DETECTFORGE_RETRY_EXPONENTIAL" default:"true"`

	CircuitFailureThreshold int           `env:"DETECTFORGE_CB_FAILURE_THRESHOLD" default:"5"`
	CircuitSuccessThreshold int           `env:"DETECTFORGE_CB_SUCCESS_THRESHOLD" default:"2"`
	CircuitResetTimeout     time.Duration `env:"DETECTFORGE_CB_RESET_TIMEOUT" default:"30s"`

	EngineConcurrencyCeiling int `env:"DETECTFORGE_CONCURRENCY_CEILING" default:"32"`
	AdapterCallTimeout       time.Duration `env:"DETECTFORGE_ADAPTER_TIMEOUT" default:"30s"`

	logger Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// DefaultConfig returns a Config populated with defaults only.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:                 "info",
		LogFormat:                "json",
		StorePath:                "./detectforge.db",
		PlaybookDir:              "./playbooks",
		AdapterDir:               "./adapters",
		DefaultAutomationLevel:   "L0",
		WebhookHost:              "0.0.0.0",
		WebhookPort:              8443,
		LLMTimeout:               10 * time.Second,
		LLMMaxTokens:             1024,
		RetryMaxAttempts:         3,
		RetryBackoffMS:           500,
		RetryMaxBackoffMS:        30000,
		RetryExponential:         true,
		CircuitFailureThreshold:  5,
		CircuitSuccessThreshold:  2,
		CircuitResetTimeout:      30 * time.Second,
		EngineConcurrencyCeiling: 32,
		AdapterCallTimeout:       30 * time.Second,
		logger:                   NoOpLogger{},
	}
}

// LoadFromEnv overlays recognized environment variables onto c. The
// retry, circuit-breaker, concurrency-ceiling and adapter-timeout
// fields are not read from the environment, although their struct tags
// name variables; they keep their defaults unless an Option sets them.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("DETECTFORGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DETECTFORGE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("DETECTFORGE_DB_PATH"); v != "" {
		c.StorePath = v
	}
	if v := os.Getenv("DETECTFORGE_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("DETECTFORGE_PLAYBOOK_DIR"); v != "" {
		c.PlaybookDir = v
	}
	if v := os.Getenv("DETECTFORGE_ADAPTER_DIR"); v != "" {
		c.AdapterDir = v
	}
	if v := os.Getenv("DETECTFORGE_DEFAULT_LEVEL"); v != "" {
		c.DefaultAutomationLevel = v
	}
	if v := os.Getenv("DETECTFORGE_ENABLE_L2"); v != "" {
		c.EnableL2 = parseBool(v)
	}
	if v := os.Getenv("DETECTFORGE_WEBHOOK_HOST"); v != "" {
		c.WebhookHost = v
	}
	if v := os.Getenv("DETECTFORGE_WEBHOOK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.WebhookPort = port
		}
	}
	if v := os.Getenv("DETECTFORGE_HMAC_SECRET"); v != "" {
		c.HMACSecret = v
	}
	if v := os.Getenv("DETECTFORGE_LLM_ENDPOINT"); v != "" {
		c.LLMEndpoint = v
	}
	if v := os.Getenv("DETECTFORGE_LLM_API_KEY"); v != "" {
		c.LLMAPIKey = v
	}
	if v := os.Getenv("DETECTFORGE_LLM_MODEL"); v != "" {
		c.LLMModel = v
	}
	if v := os.Getenv("DETECTFORGE_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LLMTimeout = d
		}
	}
	if v := os.Getenv("DETECTFORGE_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLMMaxTokens = n
		}
	}
	return nil
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(s))
	return v
}

// Validate rejects configuration combinations that the rest of the
// engine cannot safely run with.
func (c *Config) Validate() error {
	switch c.DefaultAutomationLevel {
	case "L0", "L1", "L2":
	default:
		return fmt.Errorf("%w: default_automation_level must be L0, L1, or L2", ErrInvalidConfiguration)
	}
	if c.WebhookPort < 0 || c.WebhookPort > 65535 {
		return fmt.Errorf("%w: webhook port out of range", ErrInvalidConfiguration)
	}
	if c.DefaultAutomationLevel == "L2" && !c.EnableL2 {
		// Not an error: the L2 opt-in gate is enforced per-request by
		// policy.ValidateL2Enabled, not at config load time.
		_ = c
	}
	return nil
}

// ErrInvalidConfiguration is returned by Validate.
var ErrInvalidConfiguration = fmt.Errorf("invalid configuration")

func WithLogLevel(level string) Option  { return func(c *Config) { c.LogLevel = level } }
func WithLogFormat(format string) Option { return func(c *Config) { c.LogFormat = format } }
func WithRedisURL(url string) Option    { return func(c *Config) { c.RedisURL = url } }
func WithWebhook(host string, port int) Option {
	return func(c *Config) { c.WebhookHost = host; c.WebhookPort = port }
}
func WithHMACSecret(secret string) Option { return func(c *Config) { c.HMACSecret = secret } }
func WithPlaybookDir(dir string) Option   { return func(c *Config) { c.PlaybookDir = dir } }
func WithDefaultLevel(level string) Option {
	return func(c *Config) { c.DefaultAutomationLevel = level }
}
func WithEnableL2(enabled bool) Option { return func(c *Config) { c.EnableL2 = enabled } }
func WithLLM(endpoint, apiKey, model string) Option {
	return func(c *Config) { c.LLMEndpoint = endpoint; c.LLMAPIKey = apiKey; c.LLMModel = model }
}
func WithLogger(logger Logger) Option { return func(c *Config) { c.logger = logger } }

// NewConfig builds a Config from defaults, then environment, then opts.
func NewConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NoOpLogger{}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Logger returns the logger attached to this config, defaulting to NoOp.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return NoOpLogger{}
	}
	return c.logger
}
