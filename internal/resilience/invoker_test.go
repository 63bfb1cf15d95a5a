package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func parseList(raw string) ([]string, *ValidationError) {
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, Unparseable(raw, err)
	}
	return out, nil
}

func exactly(n int) Validator[[]string] {
	return func(v []string) *ValidationError {
		if len(v) != n {
			return CountMismatch(n, len(v))
		}
		return nil
	}
}

func nonEmptyItems(v []string) *ValidationError {
	for i, s := range v {
		if strings.TrimSpace(s) == "" {
			return MalformedField(i, s, "summary is blank")
		}
	}
	return nil
}

type scriptedCall struct {
	responses []string
	errs      []error
	prompts   []string
}

func (s *scriptedCall) call(_ context.Context, prompt string) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	resp := ""
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

func newTestInvoker(t *testing.T, b *Breaker, maxAttempts int) *Invoker[[]string] {
	t.Helper()
	if b == nil {
		b = NewBreaker(t.Name(), BreakerConfig{Threshold: 2, Timeout: time.Minute}, newFakeClock(), nil)
	}
	return NewInvoker(b, InvokerConfig[[]string]{
		Operation:   "batch_summaries",
		Parser:      parseList,
		Validators:  []Validator[[]string]{nonEmptyItems},
		MaxAttempts: maxAttempts,
	}, zap.NewNop())
}

func TestInvoker_RepairsUntilValid(t *testing.T) {
	t.Parallel()

	script := &scriptedCall{responses: []string{
		`not json`,
		`["one"]`,
		`["one","two"]`,
	}}
	inv := newTestInvoker(t, nil, 3)

	got, err := inv.Invoke(context.Background(), "summarize", script.call, exactly(2))
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, got)
	require.Len(t, script.prompts, 3)

	require.Equal(t, "summarize", script.prompts[0])
	require.True(t, strings.HasPrefix(script.prompts[1], "summarize\n\n"))
	require.Contains(t, script.prompts[1], "could not be parsed")
	require.Contains(t, script.prompts[2], "exactly 2 are required")
	require.NotContains(t, script.prompts[2], "could not be parsed", "repair starts from the original prompt")
}

func TestInvoker_ExhaustsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	script := &scriptedCall{responses: []string{`["", "x"]`, `["", "x"]`, `["", "x"]`, `["a","b"]`}}
	b := NewBreaker("exhaust", BreakerConfig{Threshold: 1, Timeout: time.Minute}, newFakeClock(), nil)
	inv := newTestInvoker(t, b, 3)

	_, err := inv.Invoke(context.Background(), "p", script.call, exactly(2))
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, KindMalformedField, vErr.Kind)
	require.Equal(t, 3, vErr.Attempt)
	require.Equal(t, 0, vErr.Index)
	require.Len(t, script.prompts, 3)

	require.Equal(t, StateClosed, b.Snapshot().State, "validation failures never trip the breaker")
}

func TestInvoker_InfrastructureErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	script := &scriptedCall{errs: []error{errUpstream}, responses: []string{"", `["a"]`}}
	inv := newTestInvoker(t, nil, 3)

	_, err := inv.Invoke(context.Background(), "p", script.call)
	require.ErrorIs(t, err, errUpstream)
	require.False(t, IsValidation(err))
	require.Len(t, script.prompts, 1)
}

func TestInvoker_ProviderRaisedValidationErrorIsRetried(t *testing.T) {
	t.Parallel()

	script := &scriptedCall{
		errs:      []error{Empty("")},
		responses: []string{"", `["ok"]`},
	}
	inv := newTestInvoker(t, nil, 2)

	got, err := inv.Invoke(context.Background(), "p", script.call)
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, got)
	require.Len(t, script.prompts, 2)
}

func TestInvoker_OpenBreakerRejectsWithoutCalling(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := NewBreaker("open-invoker", BreakerConfig{Threshold: 1, Timeout: time.Minute}, clock, nil)
	inv := newTestInvoker(t, b, 3)

	first := &scriptedCall{errs: []error{errUpstream}}
	_, err := inv.Invoke(context.Background(), "p", first.call)
	require.ErrorIs(t, err, errUpstream)

	second := &scriptedCall{responses: []string{`["a"]`}}
	_, err = inv.Invoke(context.Background(), "p", second.call)
	require.ErrorIs(t, err, ErrOpen)
	require.Empty(t, second.prompts)

	clock.Advance(time.Minute)
	got, err := inv.Invoke(context.Background(), "p", second.call)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got)
	require.Equal(t, StateClosed, b.Snapshot().State)
}

func TestInvoker_CustomRepair(t *testing.T) {
	t.Parallel()

	b := NewBreaker("custom-repair", BreakerConfig{}, newFakeClock(), nil)
	inv := NewInvoker(b, InvokerConfig[[]string]{
		Operation: "custom",
		Parser:    parseList,
		Repair: func(prompt string, f *ValidationError) string {
			return prompt + "|" + string(f.Kind)
		},
	}, nil)
	script := &scriptedCall{responses: []string{`{`, `["x"]`}}

	_, err := inv.Invoke(context.Background(), "base", script.call)
	require.NoError(t, err)
	require.Equal(t, "base|unparseable", script.prompts[1])
	require.Equal(t, DefaultMaxAttempts, inv.cfg.MaxAttempts)
}

func TestValidationError_Messages(t *testing.T) {
	t.Parallel()

	e := CountMismatch(3, 1)
	e.Attempt = 2
	require.Equal(t, "validation failed (count_mismatch, attempt 2): expected 3 items, received 1", e.Error())
	require.Contains(t, e.Hint(), "contained 1 summaries but exactly 3")

	long := strings.Repeat("a", 500)
	u := Unparseable(long, errors.New("bad"))
	require.Len(t, u.Raw, maxRawInError+3)

	// 199 ASCII bytes put a three-byte rune across the cut.
	multi := strings.Repeat("a", maxRawInError-1) + strings.Repeat("€", 10)
	cut := Unparseable(multi, errors.New("bad"))
	require.True(t, utf8.ValidString(cut.Raw))
	require.Equal(t, strings.Repeat("a", maxRawInError-1)+"...", cut.Raw)
	require.Equal(t, "bad", u.Message)
	require.True(t, IsValidation(u))
	require.False(t, IsValidation(errUpstream))
}
