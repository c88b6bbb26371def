package rewriter

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
)

// NewDefaultConfig creates a config with sensible defaults
func NewDefaultConfig(modelName string) Config {
	if modelName == "" {
		panic("model name is required")
	}

	return Config{
		ModelName:     modelName,
		BaseURL:       DefaultBaseURL,
		BatchSize:     DefaultBatchSize,
		WordLimit:     DefaultWordLimit,
		MaxNewTokens:  DefaultMaxNewTokens,
		Truncate:      true,
		EnableMetrics: true,
		Timeout:       DefaultTimeout,
	}
}

// NewProductionConfig creates a config with all resilience features enabled
func NewProductionConfig(modelName string) Config {
	return NewDefaultConfig(modelName).WithCircuitBreaker().WithRetry()
}

// WithCircuitBreaker enables circuit breaker with default settings
func (c Config) WithCircuitBreaker() Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = defaultCircuitBreakerConfig()
	return c
}

// WithCircuitBreakerConfig enables circuit breaker with custom settings
func (c Config) WithCircuitBreakerConfig(config *CircuitBreakerConfig) Config {
	c.EnableCircuitBreaker = true
	c.CircuitBreakerConfig = config
	return c
}

// WithRetry enables retry with default exponential backoff
func (c Config) WithRetry() Config {
	c.EnableRetry = true
	c.RetryConfig = defaultRetryConfig()
	return c
}

// WithRetryStrategy enables retry with specified strategy
func (c Config) WithRetryStrategy(strategy RetryStrategy, maxAttempts int) Config {
	c.EnableRetry = true
	c.RetryConfig = &RetryConfig{
		MaxAttempts:  maxAttempts,
		Strategy:     strategy,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
	return c
}

// WithRetryConfig enables retry with custom settings
func (c Config) WithRetryConfig(config *RetryConfig) Config {
	c.EnableRetry = true
	c.RetryConfig = config
	return c
}

// WithToken sets the access token used for gated models
func (c Config) WithToken(token string) Config {
	c.Token = token
	return c
}

// WithBaseURL sets the inference endpoint
func (c Config) WithBaseURL(baseURL string) Config {
	c.BaseURL = baseURL
	return c
}

// WithTimeout sets the request timeout
func (c Config) WithTimeout(timeout time.Duration) Config {
	if timeout < 0 {
		panic("timeout must be positive")
	}
	c.Timeout = timeout
	return c
}

// WithMetrics toggles Prometheus metric recording
func (c Config) WithMetrics(enabled bool) Config {
	c.EnableMetrics = enabled
	return c
}

// Model returns the registered spec for the configured model name
func (c Config) Model() (ModelSpec, error) {
	return LookupModel(c.ModelName)
}

// Validate checks if the config is valid
func (c Config) Validate() error {
	if c.ModelName == "" {
		return ErrMissingModel
	}

	spec, err := c.Model()
	if err != nil {
		return err
	}

	if spec.Gated && c.Token == "" {
		return ErrMissingToken
	}

	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid base URL %q", ErrInvalidConfig, c.BaseURL)
		}
	}

	if c.BatchSize < 0 {
		return fmt.Errorf("%w: BatchSize must be non-negative", ErrInvalidConfig)
	}
	if c.WordLimit < 0 {
		return fmt.Errorf("%w: WordLimit must be non-negative", ErrInvalidConfig)
	}
	if c.MaxNewTokens < 0 {
		return fmt.Errorf("%w: MaxNewTokens must be non-negative", ErrInvalidConfig)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be positive")
	}

	if c.EnableCircuitBreaker && c.CircuitBreakerConfig == nil {
		return errors.New("circuit breaker enabled but config is nil")
	}

	if c.EnableRetry {
		if c.RetryConfig == nil {
			return errors.New("retry enabled but config is nil")
		}

		if !isValidRetryStrategy(c.RetryConfig.Strategy) {
			return fmt.Errorf("invalid retry strategy: %s", c.RetryConfig.Strategy)
		}

		if c.RetryConfig.MaxAttempts <= 0 {
			return errors.New("retry MaxAttempts must be positive")
		}

		if c.RetryConfig.InitialDelay <= 0 {
			return errors.New("retry InitialDelay must be positive")
		}

		if c.RetryConfig.MaxDelay <= 0 {
			return errors.New("retry MaxDelay must be positive")
		}
	}

	return nil
}

// withDefaults fills zero-valued numeric settings
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.WordLimit == 0 {
		c.WordLimit = DefaultWordLimit
	}
	if c.MaxNewTokens == 0 {
		c.MaxNewTokens = DefaultMaxNewTokens
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func defaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip if 5 consecutive failures OR failure rate > 60%
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && failureRatio > 0.6)
		},
	}
}

func defaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		Strategy:     RetryStrategyExponential,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// isValidRetryStrategy checks if the retry strategy is valid
func isValidRetryStrategy(strategy RetryStrategy) bool {
	switch strategy {
	case RetryStrategyExponential, RetryStrategyConstant, RetryStrategyFibonacci:
		return true
	default:
		return false
	}
}
