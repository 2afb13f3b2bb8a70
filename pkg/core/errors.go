package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an exchange error.
type ErrorType int

// Error type constants categorize errors for proper handling and retry logic.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates the exchange's DDoS protection or rate
	// limit was triggered.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates invalid credentials or a rejected signature.
	ErrorTypeAuthentication
	// ErrorTypeNotSupported indicates the request is malformed or the
	// endpoint does not support it.
	ErrorTypeNotSupported
	// ErrorTypeServiceUnavailable indicates the exchange is busy or down.
	ErrorTypeServiceUnavailable
	// ErrorTypeInsufficientFunds indicates the account lacks the required balance.
	ErrorTypeInsufficientFunds
	// ErrorTypeInvalidOrder indicates the order violates exchange rules.
	ErrorTypeInvalidOrder
	// ErrorTypeInvalidNonce indicates the request timestamp was rejected.
	ErrorTypeInvalidNonce
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"NOT_SUPPORTED",
		"SERVICE_UNAVAILABLE",
		"INSUFFICIENT_FUNDS",
		"INVALID_ORDER",
		"INVALID_NONCE",
	}[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrNotConnected is returned when the websocket is not connected.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrNoCredentials is returned when no API credentials are configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoAPIKey is returned when the key ring has no usable API key.
	ErrNoAPIKey = errors.New("no available API key")
	// ErrMarketNotLoaded is returned when an operation needs a market that
	// is not in the cache.
	ErrMarketNotLoaded = errors.New("market not loaded")
)

// ExchangeError represents a structured error returned from an exchange.
// It provides detailed context for debugging and error handling.
type ExchangeError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code from the response.
	StatusCode int `json:"status_code"`
	// Code is the exchange-specific error code (e.g. "3008").
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Exchange identifies which exchange returned this error.
	Exchange string `json:"exchange"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for ExchangeError.
// It returns a formatted string with exchange name, error type, status code, and message.
func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.Exchange, e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.Exchange, e.Type, e.StatusCode, e.Message)
}

// WithCode returns the error with the exchange-specific code set.
func (e *ExchangeError) WithCode(code string) *ExchangeError {
	e.Code = code
	return e
}

// NewExchangeError creates a new ExchangeError with the specified details.
// The timestamp is automatically set to the current time.
func NewExchangeError(exchange string, errorType ErrorType, statusCode int, message string) *ExchangeError {
	return &ExchangeError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		Exchange:   exchange,
		Timestamp:  time.Now(),
	}
}

// IsAuthenticationError returns true if the error is an authentication failure.
// Authentication errors require credential validation and are not retryable.
func IsAuthenticationError(err error) bool {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeAuthentication
	}
	return false
}

// IsRateLimitError returns true if the error is a rate limit violation.
// Rate limit errors should be retried after a delay.
func IsRateLimitError(err error) bool {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeRateLimit
	}
	return false
}

// IsInvalidOrder returns true if the error indicates the order violates
// exchange rules, including local pre-flight validation failures.
func IsInvalidOrder(err error) bool {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeInvalidOrder
	}
	return false
}

// IsTerminalError returns true if retrying the request cannot succeed.
func IsTerminalError(err error) bool {
	var e *ExchangeError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeInsufficientFunds ||
			e.Type == ErrorTypeInvalidOrder ||
			e.Type == ErrorTypeNotSupported
	}
	return false
}
