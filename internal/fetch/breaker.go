package fetch

import (
	"errors"
	"sync"
	"time"
)

// ErrProviderTripped is returned when a provider's breaker is open.
var ErrProviderTripped = errors.New("provider breaker is open")

// BreakerState represents the provider breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, rejecting requests
	BreakerHalfOpen                     // probing whether the provider recovered
)

// Breaker trips a provider endpoint after consecutive transient failures so
// the engine stops hammering an upstream that is already refusing traffic.
// Only transient failure kinds count toward tripping; absence (NotFound) and
// caller mistakes are ignored.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	lastFailureAt    time.Time
	nowFn            func() time.Time
	onStateChange    func(from, to BreakerState)
}

// BreakerConfig configures a provider breaker.
type BreakerConfig struct {
	FailureThreshold int           // transient failures before opening (default: 5)
	SuccessThreshold int           // successes in half-open before closing (default: 2)
	OpenTimeout      time.Duration // how long to stay open before probing (default: 30s)
	OnStateChange    func(from, to BreakerState)
}

// NewBreaker creates a provider breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout,
		nowFn:            time.Now,
		onStateChange:    cfg.OnStateChange,
	}
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.nowFn().Sub(b.lastFailureAt) > b.openTimeout {
			b.setState(BreakerHalfOpen)
			return nil
		}
		return ErrProviderTripped
	case BreakerHalfOpen:
		return nil
	}
	return nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	if b.state == BreakerHalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.setState(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call of the given kind. Non-retryable kinds
// do not move the breaker.
func (b *Breaker) RecordFailure(kind Kind) {
	if !kind.Retryable() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.successCount = 0
	b.lastFailureAt = b.nowFn()
	if b.state == BreakerHalfOpen {
		b.setState(BreakerOpen)
	} else if b.state == BreakerClosed && b.failureCount >= b.failureThreshold {
		b.setState(BreakerOpen)
	}
}

// State returns the current state, promoting open to half-open once the open
// timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFn().Sub(b.lastFailureAt) > b.openTimeout {
		b.setState(BreakerHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successCount = 0
	if to == BreakerClosed {
		b.failureCount = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
