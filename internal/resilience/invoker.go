package resilience

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/metrics"
)

// ErrRetriesExhausted wraps the last ValidationError once MaxAttempts is hit.
var ErrRetriesExhausted = errors.New("validation retries exhausted")

// DefaultMaxAttempts caps prompt-repair retries.
const DefaultMaxAttempts = 3

// Parser decodes raw provider output into a typed value.
type Parser[T any] func(raw string) (T, *ValidationError)

// Validator checks a parsed value; nil means it passed.
type Validator[T any] func(value T) *ValidationError

// Call performs one raw generation request for a prompt.
type Call func(ctx context.Context, prompt string) (string, error)

// Outcome is the result of one attempt: a value, or a validation failure.
type Outcome[T any] struct {
	Value   T
	Failure *ValidationError
}

// InvokerConfig configures an Invoker.
type InvokerConfig[T any] struct {
	// Operation labels logs and metrics, e.g. "batch_summaries".
	Operation   string
	Parser      Parser[T]
	Validators  []Validator[T]
	MaxAttempts int
	// Repair builds the next prompt from the original one and the last
	// failure. Defaults to AppendHint.
	Repair func(prompt string, failure *ValidationError) string
}

// Invoker runs a generation call with breaker gating and prompt repair.
type Invoker[T any] struct {
	breaker *Breaker
	cfg     InvokerConfig[T]
	logger  *zap.Logger
}

// AppendHint is the default repair: the original prompt followed by the
// failure's corrective hint.
func AppendHint(prompt string, failure *ValidationError) string {
	return prompt + "\n\n" + failure.Hint()
}

// NewInvoker creates an Invoker bound to one provider's breaker.
func NewInvoker[T any](breaker *Breaker, cfg InvokerConfig[T], logger *zap.Logger) *Invoker[T] {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Repair == nil {
		cfg.Repair = AppendHint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker[T]{
		breaker: breaker,
		cfg:     cfg,
		logger:  logger.With(zap.String("operation", cfg.Operation)),
	}
}

// Invoke runs call until its output passes the parser and every validator,
// or until MaxAttempts validation failures have occurred. Infrastructural
// errors and ErrOpen are returned immediately without retry. extra
// validators run after the configured ones, for checks that depend on the
// request (such as the expected item count).
func (inv *Invoker[T]) Invoke(ctx context.Context, prompt string, call Call, extra ...Validator[T]) (T, error) {
	var zero T
	current := prompt
	var last *ValidationError

	for attempt := 1; attempt <= inv.cfg.MaxAttempts; attempt++ {
		outcome, err := inv.attempt(ctx, current, attempt, call, extra)
		if err != nil {
			inv.observe(outcomeLabel(err))
			return zero, err
		}
		if outcome.Failure == nil {
			inv.observe("ok")
			if attempt > 1 {
				inv.logger.Info("provider output accepted after repair", zap.Int("attempt", attempt))
			}
			return outcome.Value, nil
		}

		last = outcome.Failure
		inv.observe("validation_failed")
		metrics.ObserveValidationFailure(string(last.Kind))
		inv.logger.Warn("provider output rejected",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", inv.cfg.MaxAttempts),
			zap.String("kind", string(last.Kind)),
			zap.String("reason", last.Message),
		)
		current = inv.cfg.Repair(prompt, last)
	}

	return zero, fmt.Errorf("%s: %w after %d attempts: %w",
		inv.cfg.Operation, ErrRetriesExhausted, inv.cfg.MaxAttempts, last)
}

func (inv *Invoker[T]) attempt(
	ctx context.Context,
	prompt string,
	attempt int,
	call Call,
	extra []Validator[T],
) (Outcome[T], error) {
	var outcome Outcome[T]
	err := inv.breaker.Execute(ctx, func(ctx context.Context) error {
		raw, err := call(ctx, prompt)
		if err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				outcome.Failure = vErr
			}
			return err
		}
		outcome = inv.evaluate(raw, extra)
		if outcome.Failure != nil {
			return outcome.Failure
		}
		return nil
	})
	if outcome.Failure != nil {
		outcome.Failure.Attempt = attempt
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (inv *Invoker[T]) evaluate(raw string, extra []Validator[T]) Outcome[T] {
	value, failure := inv.cfg.Parser(raw)
	if failure != nil {
		if failure.Raw == "" {
			failure.Raw = truncate(raw, maxRawInError)
		}
		return Outcome[T]{Failure: failure}
	}
	for _, chain := range [][]Validator[T]{inv.cfg.Validators, extra} {
		for _, validate := range chain {
			if failure := validate(value); failure != nil {
				return Outcome[T]{Failure: failure}
			}
		}
	}
	return Outcome[T]{Value: value}
}

func (inv *Invoker[T]) observe(outcome string) {
	metrics.ObserveProviderCall(inv.breaker.Name(), inv.cfg.Operation, outcome)
}

func outcomeLabel(err error) string {
	if errors.Is(err, ErrOpen) {
		return "rejected"
	}
	return "error"
}
