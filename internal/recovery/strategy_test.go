package recovery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// =============================================================================
// Exponential Backoff
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.InitialDelay = 1 * time.Second
	strategy.MaxDelay = 10 * time.Second

	// Attempt 0: 1*2^0 = 1s
	if d := strategy.GetDelay(0); d != 1*time.Second {
		t.Errorf("expected 1s, got %v", d)
	}

	// Attempt 2: 1*2^2 = 4s
	if d := strategy.GetDelay(2); d != 4*time.Second {
		t.Errorf("expected 4s, got %v", d)
	}

	// Attempt 10: Cap at MaxDelay (10s)
	if d := strategy.GetDelay(10); d != 10*time.Second {
		t.Errorf("expected 10s, got %v", d)
	}
}

func TestBackoff_ShouldRetry(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.MaxAttempts = 3

	if !strategy.ShouldRetry(errors.New("err"), 0) {
		t.Error("should retry attempt 0")
	}
	if strategy.ShouldRetry(errors.New("err"), 3) {
		t.Error("should NOT retry attempt 3 (max reached)")
	}
	if strategy.ShouldRetry(Permanent(errors.New("bad request")), 0) {
		t.Error("should NOT retry permanent failures")
	}
}

func TestBackoff_TryGetDelayIsOneBased(t *testing.T) {
	strategy := DefaultBackoff(nil)
	strategy.InitialDelay = 2 * time.Second

	d, ok := strategy.TryGetDelay(DelayedRetryContext{Err: errors.New("boom"), Attempt: 1})
	if !ok || d != 2*time.Second {
		t.Errorf("expected 2s for first delayed retry, got %v (ok=%v)", d, ok)
	}

	_, ok = strategy.TryGetDelay(DelayedRetryContext{Err: errors.New("boom"), Attempt: strategy.MaxAttempts + 1})
	if ok {
		t.Error("expected no delay past MaxAttempts")
	}
}

// =============================================================================
// Linear Policy
// =============================================================================

func TestDefaultDelayedRetryPolicy_Linear(t *testing.T) {
	p := NewDefaultDelayedRetryPolicy(3, 10*time.Second)

	for attempt, want := range map[int]time.Duration{1: 10 * time.Second, 2: 20 * time.Second, 3: 30 * time.Second} {
		d, ok := p.TryGetDelay(DelayedRetryContext{Attempt: attempt})
		if !ok || d != want {
			t.Errorf("attempt %d: expected %v, got %v (ok=%v)", attempt, want, d, ok)
		}
	}

	if _, ok := p.TryGetDelay(DelayedRetryContext{Attempt: 4}); ok {
		t.Error("attempt 4 should decline")
	}
}

func TestDefaultDelayedRetryPolicy_MaxWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewDefaultDelayedRetryPolicy(10, time.Second)
	p.MaxWindow = time.Hour
	p.Now = func() time.Time { return now }

	fresh := newMessage("m-1", domain.Headers{
		domain.HeaderRetriesTimestamp: domain.ToWireFormattedString(now.Add(-time.Minute)),
	})
	if _, ok := p.TryGetDelay(DelayedRetryContext{Message: fresh, Attempt: 2}); !ok {
		t.Error("expected retry inside the window")
	}

	stale := newMessage("m-2", domain.Headers{
		domain.HeaderRetriesTimestamp: domain.ToWireFormattedString(now.Add(-2 * time.Hour)),
	})
	if _, ok := p.TryGetDelay(DelayedRetryContext{Message: stale, Attempt: 2}); ok {
		t.Error("expected decline outside the window")
	}
}

// =============================================================================
// Classification
// =============================================================================

func TestExcludePermanent_DeserializationNeverDelayed(t *testing.T) {
	p := ExcludePermanent(NewDefaultDelayedRetryPolicy(5, time.Second), nil)
	cause := fmt.Errorf("decode: %w", &MessageDeserializationError{MessageID: "m-1", Err: errors.New("bad json")})

	for attempt := 1; attempt <= 5; attempt++ {
		if _, ok := p.TryGetDelay(DelayedRetryContext{Err: cause, Attempt: attempt}); ok {
			t.Errorf("attempt %d: deserialization failure must not be delayed", attempt)
		}
	}

	if _, ok := p.TryGetDelay(DelayedRetryContext{Err: errors.New("timeout"), Attempt: 1}); !ok {
		t.Error("transient failure should be delayed")
	}
}

func TestDefaultClassifier(t *testing.T) {
	if DefaultClassifier(errors.New("x")) != CategoryTransient {
		t.Error("plain errors are transient")
	}
	if DefaultClassifier(Permanent(errors.New("x"))) != CategoryPermanent {
		t.Error("PermanentError is permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}
