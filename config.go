// config.go
// ----------
// This file defines Config, the per-adapter configuration surface: base URL,
// default headers, timeouts, and the retry, cache, rate-limit, circuit-breaker,
// batching, GraphQL and auth sections.
//
// A Config can be built in code from DefaultConfig(), or loaded from YAML with
// LoadConfig(). Missing fields keep their defaults; the result is checked with
// struct tags (go-playground/validator) plus a few cross-field rules.
package resilientbridge

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultCacheTTL          = 5 * time.Minute
	DefaultRateLimitWindow   = time.Minute
	DefaultRateLimitRequests = 100
	DefaultBreakerThreshold  = 5
	DefaultBreakerTimeout    = time.Minute
	DefaultBreakerReset      = 30 * time.Second
	DefaultMaxBatchSize      = 100
	DefaultBatchInterval     = time.Millisecond
	DefaultBatchConcurrency  = 8
	DefaultMaxQueryDepth     = 10
	DefaultMaxComplexity     = 1000
	DefaultMaxAliases        = 15
)

// Config is the configuration of one adapter instance.
type Config struct {
	// Name identifies the adapter in events, logs and metrics.
	Name string `yaml:"name"`

	BaseURL string            `yaml:"base_url" validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers"`
	// Timeout bounds each attempt.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	Retry          RetryConfig          `yaml:"retry"`
	Cache          CacheConfig          `yaml:"cache"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Batching       BatchingConfig       `yaml:"batching"`
	GraphQL        GraphQLConfig        `yaml:"graphql"`
	Auth           AuthConfig           `yaml:"auth"`
}

type RetryConfig struct {
	Retries   int           `yaml:"retries" validate:"gte=0,lte=20"`
	BaseDelay time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay  time.Duration `yaml:"max_delay" validate:"gte=0"`
	Jitter    bool          `yaml:"jitter"`
	// NonIdempotent allows POST and PATCH to be retried without an
	// Idempotency-Key header.
	NonIdempotent bool `yaml:"non_idempotent"`
}

type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
	MaxSize int           `yaml:"max_size" validate:"gte=0"`
}

type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Window      time.Duration `yaml:"window" validate:"gte=0"`
	MaxRequests int           `yaml:"max_requests" validate:"gte=0"`
}

type CircuitBreakerConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold" validate:"gte=0"`
	// Timeout is the interval over which consecutive failures are counted.
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	ResetTimeout time.Duration `yaml:"reset_timeout" validate:"gte=0"`
}

type BatchingConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxBatchSize int           `yaml:"max_batch_size" validate:"gte=0"`
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	// Concurrency bounds parallel requests in RESTAdapter.Batch.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`
}

type GraphQLConfig struct {
	// Endpoint is the path or URL queries are posted to (default "/graphql").
	Endpoint string `yaml:"endpoint"`
	// WebSocketURL is used for subscriptions. Empty derives it from the
	// base URL and endpoint.
	WebSocketURL  string `yaml:"websocket_url" validate:"omitempty,url"`
	MaxDepth      int    `yaml:"max_depth" validate:"gte=0"`
	MaxComplexity int    `yaml:"max_complexity" validate:"gte=0"`
	MaxAliases    int    `yaml:"max_aliases" validate:"gte=0"`
}

// AuthConfig specifies how the credential header is produced. Secrets are
// never stored in the file; the *_env fields name environment variables.
type AuthConfig struct {
	// Mode is one of: bearer | basic | apikey | jwt | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=bearer basic apikey jwt none"`

	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// Header and Prefix apply to apikey mode.
	Header string `yaml:"header"`
	Prefix string `yaml:"prefix"`
	KeyEnv string `yaml:"key_env"`

	// KeyFile is a PEM or PKCS#12 RSA key for jwt mode.
	KeyFile        string        `yaml:"key_file"`
	KeyPasswordEnv string        `yaml:"key_password_env"`
	Issuer         string        `yaml:"issuer"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// Credential resolves the configured mode into a Credential. It returns nil
// for mode none or empty.
func (a AuthConfig) Credential() (Credential, error) {
	switch a.Mode {
	case "", "none":
		return nil, nil
	case "bearer":
		tok := env(a.TokenEnv)
		if tok == "" {
			return nil, fmt.Errorf("auth: bearer token env %q is empty", a.TokenEnv)
		}
		return BearerToken(tok), nil
	case "basic":
		return BasicAuth{Username: a.Username, Password: env(a.PasswordEnv)}, nil
	case "apikey":
		key := env(a.KeyEnv)
		if key == "" {
			return nil, fmt.Errorf("auth: api key env %q is empty", a.KeyEnv)
		}
		return APIKey{Header: a.Header, Prefix: a.Prefix, Key: key}, nil
	case "jwt":
		data, err := os.ReadFile(a.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("auth: read key file: %w", err)
		}
		key, err := LoadRSASigningKey(data, env(a.KeyPasswordEnv))
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		return &JWTCredential{Key: key, Issuer: a.Issuer, TTL: a.TokenTTL}, nil
	default:
		return nil, fmt.Errorf("auth: unknown mode %q", a.Mode)
	}
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// DefaultConfig returns a Config pre-populated with default values.
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Retry: RetryConfig{
			Retries:   DefaultRetries,
			BaseDelay: DefaultRetryBaseDelay,
			MaxDelay:  DefaultRetryMaxDelay,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     DefaultCacheTTL,
			MaxSize: DefaultCacheMaxSize,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			Window:      DefaultRateLimitWindow,
			MaxRequests: DefaultRateLimitRequests,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:      true,
			Threshold:    DefaultBreakerThreshold,
			Timeout:      DefaultBreakerTimeout,
			ResetTimeout: DefaultBreakerReset,
		},
		Batching: BatchingConfig{
			Enabled:      true,
			MaxBatchSize: DefaultMaxBatchSize,
			Interval:     DefaultBatchInterval,
			Concurrency:  DefaultBatchConcurrency,
		},
		GraphQL: GraphQLConfig{
			Endpoint:      "/graphql",
			MaxDepth:      DefaultMaxQueryDepth,
			MaxComplexity: DefaultMaxComplexity,
			MaxAliases:    DefaultMaxAliases,
		},
	}
}

// LoadConfig reads and parses the YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

var (
	configValidate     *validator.Validate
	configValidateOnce sync.Once
)

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	configValidateOnce.Do(func() {
		configValidate = validator.New()
	})
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		return fmt.Errorf("retry.base_delay %v exceeds retry.max_delay %v", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate_limit.max_requests and rate_limit.window must be positive when enabled")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when enabled")
	}
	return nil
}
