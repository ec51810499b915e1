package recovery

import (
	"errors"
	"math"
	"time"

	"github.com/vietddude/redeliver/internal/core/domain"
)

// FailureCategory classifies an error for retry purposes.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier maps an error to a category.
type Classifier func(err error) FailureCategory

// DefaultClassifier treats deserialization failures and PermanentError as
// permanent, everything else as transient.
func DefaultClassifier(err error) FailureCategory {
	var de *MessageDeserializationError
	if errors.As(err, &de) {
		return CategoryPermanent
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return CategoryPermanent
	}
	return CategoryTransient
}

// DelayedRetryContext is the input of a delayed retry policy.
type DelayedRetryContext struct {
	Err     error
	Message *domain.IncomingMessage
	// Attempt is the delayed retry about to be made, starting at 1.
	Attempt int
}

// DelayedRetryPolicy is the pluggable backoff function. Returning false means
// no further delayed retry should be made.
type DelayedRetryPolicy interface {
	TryGetDelay(rc DelayedRetryContext) (time.Duration, bool)
}

// DelayedRetryFunc adapts a function to DelayedRetryPolicy.
type DelayedRetryFunc func(rc DelayedRetryContext) (time.Duration, bool)

// TryGetDelay implements DelayedRetryPolicy.
func (f DelayedRetryFunc) TryGetDelay(rc DelayedRetryContext) (time.Duration, bool) {
	return f(rc)
}

const (
	DefaultNumberOfRetries = 3
	DefaultTimeIncrease    = 10 * time.Second
)

// DefaultDelayedRetryPolicy grows the delay linearly: TimeIncrease × attempt.
type DefaultDelayedRetryPolicy struct {
	NumberOfRetries int
	TimeIncrease    time.Duration
	// MaxWindow stops retrying once the last delayed retry is older than this. Zero disables it.
	MaxWindow time.Duration
	Now       func() time.Time
}

// NewDefaultDelayedRetryPolicy returns the linear policy.
func NewDefaultDelayedRetryPolicy(numberOfRetries int, timeIncrease time.Duration) *DefaultDelayedRetryPolicy {
	return &DefaultDelayedRetryPolicy{
		NumberOfRetries: numberOfRetries,
		TimeIncrease:    timeIncrease,
		Now:             time.Now,
	}
}

// TryGetDelay implements DelayedRetryPolicy.
func (p *DefaultDelayedRetryPolicy) TryGetDelay(rc DelayedRetryContext) (time.Duration, bool) {
	if rc.Attempt > p.NumberOfRetries {
		return 0, false
	}
	if p.MaxWindow > 0 && p.windowExceeded(rc.Message) {
		return 0, false
	}
	return p.TimeIncrease * time.Duration(rc.Attempt), true
}

func (p *DefaultDelayedRetryPolicy) windowExceeded(msg *domain.IncomingMessage) bool {
	if msg == nil {
		return false
	}
	raw, ok := msg.Headers.Get(domain.HeaderRetriesTimestamp)
	if !ok {
		return false
	}
	last, err := domain.ParseWireFormattedString(raw)
	if err != nil {
		return false
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Sub(last) > p.MaxWindow
}

// ExponentialBackoff doubles the delay on every attempt.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff returns 10s, 20s, 40s, ... capped at 10 minutes, 5 attempts.
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &ExponentialBackoff{
		InitialDelay: 10 * time.Second,
		MaxDelay:     10 * time.Minute,
		MaxAttempts:  5,
		Classifier:   classifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt (attempt is 0-indexed)
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	if s.Classifier == nil {
		return true
	}
	return s.Classifier(err) == CategoryTransient
}

// TryGetDelay implements DelayedRetryPolicy.
func (s *ExponentialBackoff) TryGetDelay(rc DelayedRetryContext) (time.Duration, bool) {
	if !s.ShouldRetry(rc.Err, rc.Attempt-1) {
		return 0, false
	}
	return s.GetDelay(rc.Attempt - 1), true
}

// ExcludePermanent declines a delay for errors the classifier marks permanent.
func ExcludePermanent(policy DelayedRetryPolicy, classifier Classifier) DelayedRetryPolicy {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return DelayedRetryFunc(func(rc DelayedRetryContext) (time.Duration, bool) {
		if classifier(rc.Err) == CategoryPermanent {
			return 0, false
		}
		return policy.TryGetDelay(rc)
	})
}
