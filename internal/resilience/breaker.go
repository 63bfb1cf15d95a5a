package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
)

// ErrOpen is returned without calling the wrapped function while the
// breaker is open (or while a half-open trial is already in flight).
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position in its state machine.
type State int

// Breaker states. The numeric values are exported as a metric.
const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// BreakerConfig tunes the trip threshold and the open window.
type BreakerConfig struct {
	Threshold int
	Timeout   time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures and stays open for a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Timeout: time.Minute}
}

// Snapshot is a point-in-time copy of the breaker's fields.
type Snapshot struct {
	State        State
	FailureCount int
	NextAttempt  time.Time
}

// Breaker is a per-provider circuit breaker. All state lives behind one
// mutex, so the open→half-open check-and-transition is atomic.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	clock  Clock
	logger *zap.Logger

	mu            sync.Mutex
	state         State
	failures      int
	nextAttempt   time.Time
	trialInFlight bool
}

// NewBreaker creates a closed breaker. Zero config fields fall back to
// DefaultBreakerConfig; a nil clock uses wall time.
func NewBreaker(name string, cfg BreakerConfig, clock Clock, logger *zap.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		clock:  clock,
		logger: logger.With(zap.String("breaker", name)),
	}
	metrics.SetBreakerState(name, float64(StateClosed))
	return b
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// Snapshot returns a copy of the current fields.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{State: b.state, FailureCount: b.failures, NextAttempt: b.nextAttempt}
}

// Execute runs fn if the breaker admits the call and records its outcome.
// Validation failures and caller cancellation leave the breaker untouched.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.record(callErr, trial)
	return callErr
}

func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		now := b.clock.Now()
		if now.Before(b.nextAttempt) {
			return false, fmt.Errorf("%w: %s rejects calls until %s",
				ErrOpen, b.name, b.nextAttempt.Format(time.RFC3339))
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return true, nil
	case StateHalfOpen:
		if b.trialInFlight {
			return false, fmt.Errorf("%w: %s half-open trial in progress", ErrOpen, b.name)
		}
		b.trialInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}

	switch {
	case err == nil:
		b.failures = 0
		if trial && b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
	case IsValidation(err), errors.Is(err, context.Canceled):
		return
	case trial && b.state == StateHalfOpen:
		b.trip()
	case b.state == StateClosed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.trip()
		}
	}
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.nextAttempt = b.clock.Now().Add(b.cfg.Timeout)
	b.transition(StateOpen)
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	metrics.SetBreakerState(b.name, float64(to))
	fields := []zap.Field{
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	}
	if to == StateOpen {
		fields = append(fields, zap.Time("next_attempt", b.nextAttempt))
		b.logger.Warn("circuit breaker opened", fields...)
		return
	}
	b.logger.Info("circuit breaker state change", fields...)
}
