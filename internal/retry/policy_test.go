package retry

import (
    "context"
    "errors"
    "testing"
    "time"
)

// TestDefaultPolicy verifies the baseline default values.
func TestDefaultPolicy(t *testing.T) {
    p := DefaultPolicy()
    if p.Mode != BackoffLinear { t.Fatalf("expected linear default mode got %s", p.Mode) }
    if p.Initial != time.Second { t.Fatalf("expected initial 1s got %v", p.Initial) }
    if p.Max != 30*time.Second { t.Fatalf("expected max 30s got %v", p.Max) }
    if p.MaxRetries != 2 { t.Fatalf("expected max retries 2 got %d", p.MaxRetries) }
}

// TestNewPolicyOverrides checks override precedence and clamping when initial > max.
func TestNewPolicyOverrides(t *testing.T) {
    p := NewPolicy(BackoffFixed, 5*time.Second, 2*time.Second, 5)
    // initial > max -> clamped
    if p.Initial != 2*time.Second { t.Fatalf("expected clamped initial 2s got %v", p.Initial) }
    if p.Max != 2*time.Second { t.Fatalf("expected max 2s got %v", p.Max) }
    if p.Mode != BackoffFixed { t.Fatalf("expected fixed mode got %s", p.Mode) }
    if p.MaxRetries != 5 { t.Fatalf("expected maxRetries 5 got %d", p.MaxRetries) }
}

// TestDelayModes ensures fixed, linear, exponential behave and respect cap.
func TestDelayModes(t *testing.T) {
    fixed := NewPolicy(BackoffFixed, 100*time.Millisecond, 500*time.Millisecond, 3)
    for i := 1; i <= 3; i++ {
        if d := fixed.Delay(i); d != 100*time.Millisecond {
            t.Fatalf("fixed attempt %d expected 100ms got %v", i, d)
        }
    }

    linear := NewPolicy(BackoffLinear, 100*time.Millisecond, 250*time.Millisecond, 5)
    cases := []struct { attempt int; want time.Duration }{{1,100*time.Millisecond},{2,200*time.Millisecond},{3,250*time.Millisecond},{4,250*time.Millisecond}}
    for _, c := range cases {
        if got := linear.Delay(c.attempt); got != c.want {
            t.Fatalf("linear attempt %d expected %v got %v", c.attempt, c.want, got)
        }
    }

    exp := NewPolicy(BackoffExponential, 50*time.Millisecond, 160*time.Millisecond, 5)
    expCases := []struct { attempt int; want time.Duration }{{1,50*time.Millisecond},{2,100*time.Millisecond},{3,160*time.Millisecond},{4,160*time.Millisecond}}
    for _, c := range expCases {
        if got := exp.Delay(c.attempt); got != c.want {
            t.Fatalf("exp attempt %d expected %v got %v", c.attempt, c.want, got)
        }
    }
}

// TestDelayEdgeCases ensures non-positive attempts yield zero and negative attempts don't panic.
func TestDelayEdgeCases(t *testing.T) {
    p := NewPolicy(BackoffLinear, 10*time.Millisecond, 20*time.Millisecond, 1)
    if d := p.Delay(0); d != 0 { t.Fatalf("attempt 0 expected 0 got %v", d) }
    if d := p.Delay(-1); d != 0 { t.Fatalf("attempt -1 expected 0 got %v", d) }
}

// TestDoRetriesUntilSuccess checks Do retries and reports retry counts.
func TestDoRetriesUntilSuccess(t *testing.T) {
    p := NewPolicy(BackoffFixed, time.Millisecond, time.Millisecond, 3)
    calls := 0
    retries := 0
    err := p.Do(context.Background(), func() error {
        calls++
        if calls < 3 {
            return errors.New("transient")
        }
        return nil
    }, func(int) { retries++ })
    if err != nil { t.Fatalf("expected success after retries, got %v", err) }
    if calls != 3 { t.Fatalf("expected 3 calls got %d", calls) }
    if retries != 2 { t.Fatalf("expected 2 retries got %d", retries) }
}

// TestDoExhaustsRetries checks the last error is surfaced.
func TestDoExhaustsRetries(t *testing.T) {
    p := NewPolicy(BackoffFixed, time.Millisecond, time.Millisecond, 2)
    sentinel := errors.New("still failing")
    calls := 0
    err := p.Do(context.Background(), func() error { calls++; return sentinel }, nil)
    if !errors.Is(err, sentinel) { t.Fatalf("expected sentinel error, got %v", err) }
    if calls != 3 { t.Fatalf("expected 3 calls (1 + 2 retries) got %d", calls) }
}

// TestDoContextCancel aborts between attempts.
func TestDoContextCancel(t *testing.T) {
    p := NewPolicy(BackoffFixed, time.Minute, time.Minute, 2)
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    err := p.Do(ctx, func() error { return errors.New("transient") }, nil)
    if !errors.Is(err, context.Canceled) { t.Fatalf("expected context.Canceled got %v", err) }
}
