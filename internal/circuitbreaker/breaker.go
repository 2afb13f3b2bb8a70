package circuitbreaker

import (
	"sync"
	"time"
)

// State is the circuit position.
type State int

const (
	// StateClosed lets requests through and counts failures.
	StateClosed State = iota
	// StateOpen rejects requests until the cool-off timeout elapses.
	StateOpen
	// StateHalfOpen lets probe requests through to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config sets the breaker thresholds.
type Config struct {
	// FailThreshold is the number of consecutive failures that opens the circuit.
	FailThreshold int `json:"fail_threshold"`
	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int `json:"success_threshold"`
	// Timeout is the cool-off period before an open circuit admits probes.
	Timeout time.Duration `json:"timeout"`
}

// Breaker is a circuit breaker guarding calls to an exchange. Consecutive
// failures open the circuit; after the cool-off it half-opens and probe
// successes close it again.
type Breaker struct {
	mu        sync.Mutex
	config    Config
	state     State
	failures  int
	successes int
	openedAt  time.Time

	// nowFn supplies the clock, replaceable in tests.
	nowFn func() time.Time
}

// New creates a closed Breaker with the given thresholds.
func New(config Config) *Breaker {
	return &Breaker{
		config: config,
		state:  StateClosed,
		nowFn:  time.Now,
	}
}

// Allow reports whether a request may proceed, moving an expired open
// circuit to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) >= b.config.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return false
}

// Record reports the outcome of a request that Allow admitted.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailThreshold {
			b.open()
		}
	case StateHalfOpen:
		if !success {
			b.open()
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	case StateOpen:
		// Late results from requests admitted before the circuit opened.
		if !success {
			b.openedAt = b.nowFn()
		}
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.nowFn()
	b.failures = 0
	b.successes = 0
}

// State returns the current circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the circuit closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
