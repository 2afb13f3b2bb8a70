package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Credentials holds API authentication credentials for an exchange.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key"`
	// SecretKey is the private key used for signing requests.
	SecretKey string `json:"secret_key"`
	// Passphrase is the additional credential bound to the API key at
	// creation time, sent in the OK-ACCESS-PASSPHRASE header.
	Passphrase string `json:"passphrase,omitempty"`
}

// Config contains all configuration options for an exchange session.
// It includes authentication, networking, rate limiting, and circuit breaker settings.
type Config struct {
	Exchange    string       `json:"exchange" validate:"required"`
	Credentials *Credentials `json:"credentials,omitempty"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout      time.Duration `json:"timeout" validate:"min=1ms"`
	MaxRetries   int           `json:"max_retries" validate:"min=0"`
	RetryWaitMin time.Duration `json:"retry_wait_min" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" validate:"min=0"`

	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	// CreateMarketBuyRequiresPrice controls the market-buy pre-flight check.
	// When true (the default), PlaceOrder rejects a market buy without a
	// price, because the exchange expects the quote-currency notional for
	// market buys and silently reinterpreting the amount would be unsafe.
	// Disable it to pass the notional directly in the amount argument.
	CreateMarketBuyRequiresPrice bool `json:"create_market_buy_requires_price"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the
// specified exchange: 10s timeout, 3 retries, 100ms-1s retry wait, one request
// per two seconds steady rate, circuit breaker with 5 failures/2 successes/30s
// timeout, and the market-buy price requirement enabled.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange:     exchange,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,

		RateLimitRequests: 30,
		RateLimitPeriod:   time.Minute,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		CreateMarketBuyRequiresPrice: true,

		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithMarketBuyPriceOptional disables the market-buy price requirement and
// returns the config for chaining. Callers are then expected to pass the
// quote-currency notional as the amount for market buys.
func (c *Config) WithMarketBuyPriceOptional() *Config {
	c.CreateMarketBuyRequiresPrice = false
	return c
}
