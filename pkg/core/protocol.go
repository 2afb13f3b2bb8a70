package core

import (
	"context"

	"resty.dev/v3"
)

// RateLimitConfig defines rate limiting parameters for an exchange protocol.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate the exchange allows.
	RequestsPerSecond float64 `json:"requests_per_second"`
	// Burst allows temporary exceeding of the sustained rate.
	Burst int `json:"burst"`
}

// Protocol defines the interface for exchange-specific protocol implementations.
// Each exchange must implement this interface to handle request building,
// response parsing, authentication, and rate limiting.
type Protocol interface {
	// Name returns the exchange identifier (e.g. "okex").
	Name() string

	// Version returns the API version being used.
	Version() string

	// BaseURL returns the scheme and host all request paths are relative to.
	BaseURL() string

	// BuildRequest constructs an HTTP request descriptor for the specified
	// operation. The params map contains operation-specific parameters.
	BuildRequest(ctx context.Context, op Operation, params Params) (*Request, error)

	// ParseResponse deserializes the HTTP response and normalizes it to the
	// canonical type for the operation.
	ParseResponse(op Operation, resp *resty.Response) (any, error)

	// SignRequest computes the authentication signature for a request
	// descriptor and attaches the required headers and body. The
	// credentials provide the keys needed for signing.
	SignRequest(req *Request, creds Credentials) error

	// SupportedOperations returns the list of operations this protocol supports.
	SupportedOperations() []Operation

	// RateLimits returns the rate limiting configuration for this exchange.
	RateLimits() RateLimitConfig
}
