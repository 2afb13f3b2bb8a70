package exchange

import "time"

// Option is a functional option applied to a single exchange call.
type Option func(*Options)

// Options holds per-call parameters shared across operations.
type Options struct {
	// Limit caps the number of results (book depth, trades, orders).
	Limit int
	// Timeframe selects the candle interval (e.g. "1m", "1h").
	Timeframe string
	// Since restricts results to entries at or after the given time.
	Since time.Time
	// Status filters order history by exchange-native status.
	Status string
}

// WithLimit caps the number of results returned.
func WithLimit(limit int) Option {
	return func(o *Options) {
		o.Limit = limit
	}
}

// WithTimeframe selects the candle interval.
func WithTimeframe(timeframe string) Option {
	return func(o *Options) {
		o.Timeframe = timeframe
	}
}

// WithSince restricts results to entries at or after the given time.
func WithSince(since time.Time) Option {
	return func(o *Options) {
		o.Since = since
	}
}

// WithStatus filters order history by exchange-native status.
func WithStatus(status string) Option {
	return func(o *Options) {
		o.Status = status
	}
}

// ApplyOptions folds the given options into a fresh Options value.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
