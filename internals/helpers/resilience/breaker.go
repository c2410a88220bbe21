package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	helper "kapalku_backend/internals/helpers"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // consecutive half-open successes that close it
	Cooldown         time.Duration // time spent OPEN before a probe is allowed
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

// CircuitOpenError is returned without invoking the dependency while the
// breaker is OPEN (or while the single half-open probe is in flight).
type CircuitOpenError struct {
	Name              string
	RemainingCooldown time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry in %s", e.Name, e.RemainingCooldown.Round(time.Millisecond))
}

func (e *CircuitOpenError) Unwrap() error { return helper.ErrDependencyUnavailable }

type CircuitBreaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	openedAt      time.Time
	probeInFlight bool
}

func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
}

func (b *CircuitBreaker) Name() string { return b.name }

// State reports the current state, promoting OPEN to HALF_OPEN once the
// cooldown has elapsed.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked(b.now())
	return b.state
}

func (b *CircuitBreaker) promoteLocked(now time.Time) {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.setStateLocked(StateHalfOpen)
	}
}

func (b *CircuitBreaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	helper.Logger.WithFields(map[string]any{
		"breaker": b.name,
		"from":    b.state,
		"to":      s,
	}).Warn("circuit breaker state change")
	b.state = s
	b.failures = 0
	b.successes = 0
	b.probeInFlight = false
}

// allow decides whether a call may proceed and reserves the half-open probe slot.
func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.promoteLocked(now)

	switch b.state {
	case StateOpen:
		return &CircuitOpenError{Name: b.name, RemainingCooldown: b.cfg.Cooldown - now.Sub(b.openedAt)}
	case StateHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{Name: b.name}
		}
		b.probeInFlight = true
	}
	return nil
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if err == nil {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setStateLocked(StateOpen)
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		b.probeInFlight = false
		if err != nil {
			b.setStateLocked(StateOpen)
			b.openedAt = b.now()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.setStateLocked(StateClosed)
		}
	case StateOpen:
		// a call admitted before another caller tripped the breaker
	}
}

// Execute runs fn through the breaker.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

type BreakerSnapshot struct {
	Name      string `json:"name"`
	State     State  `json:"state"`
	Failures  int    `json:"consecutive_failures"`
	Successes int    `json:"half_open_successes"`
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promoteLocked(b.now())
	return BreakerSnapshot{Name: b.name, State: b.state, Failures: b.failures, Successes: b.successes}
}
