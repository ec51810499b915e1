package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/redeliver/internal/core/config"
	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/recovery"
)

func boolPtr(b bool) *bool { return &b }

func TestBuildSettings_Linear(t *testing.T) {
	s := BuildSettings(config.RecoverabilityConfig{
		Immediate: config.ImmediateConfig{MaxRetries: 2},
		Delayed: config.DelayedConfig{
			Policy:          "linear",
			NumberOfRetries: 3,
			TimeIncrease:    10 * time.Second,
		},
	}, domain.TransactionModeReceiveOnly)

	assert.True(t, s.ImmediateRetriesEnabled)
	assert.Equal(t, 2, s.MaxImmediateRetries)
	require.True(t, s.DelayedRetriesEnabled)

	delay, ok := s.DelayedRetryPolicy.TryGetDelay(recovery.DelayedRetryContext{
		Message: domain.NewIncomingMessage("m-1", nil, nil),
		Attempt: 2,
	})
	require.True(t, ok)
	assert.Equal(t, 20*time.Second, delay)
}

func TestBuildSettings_ExponentialSkipsPermanent(t *testing.T) {
	s := BuildSettings(config.RecoverabilityConfig{
		Immediate: config.ImmediateConfig{MaxRetries: 1},
		Delayed: config.DelayedConfig{
			Policy:          "exponential",
			NumberOfRetries: 4,
			InitialDelay:    time.Second,
			MaxDelay:        time.Minute,
			SkipPermanent:   boolPtr(true),
		},
	}, domain.TransactionModeReceiveOnly)

	msg := domain.NewIncomingMessage("m-1", nil, nil)
	delay, ok := s.DelayedRetryPolicy.TryGetDelay(recovery.DelayedRetryContext{
		Err: errors.New("timeout"), Message: msg, Attempt: 3,
	})
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, delay)

	_, ok = s.DelayedRetryPolicy.TryGetDelay(recovery.DelayedRetryContext{
		Err: recovery.Permanent(errors.New("bad request")), Message: msg, Attempt: 1,
	})
	assert.False(t, ok)
}

func TestBuildSettings_LinearSkipsPermanentByDefault(t *testing.T) {
	cfg := config.RecoverabilityConfig{
		Delayed: config.DelayedConfig{
			Policy:          "linear",
			NumberOfRetries: 3,
			TimeIncrease:    10 * time.Second,
		},
	}
	msg := domain.NewIncomingMessage("m-1", nil, nil)
	undeserializable := recovery.DelayedRetryContext{
		Err:     &recovery.MessageDeserializationError{MessageID: "m-1", Err: errors.New("body is not valid JSON")},
		Message: msg,
		Attempt: 1,
	}
	rejected := recovery.DelayedRetryContext{Err: recovery.Permanent(errors.New("422")), Message: msg, Attempt: 1}

	s := BuildSettings(cfg, domain.TransactionModeReceiveOnly)
	_, ok := s.DelayedRetryPolicy.TryGetDelay(undeserializable)
	assert.False(t, ok)
	_, ok = s.DelayedRetryPolicy.TryGetDelay(rejected)
	assert.False(t, ok)

	cfg.Delayed.SkipPermanent = boolPtr(false)
	s = BuildSettings(cfg, domain.TransactionModeReceiveOnly)
	delay, ok := s.DelayedRetryPolicy.TryGetDelay(rejected)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, delay)
}

func TestBuildSettings_ModeNoneDisablesRetries(t *testing.T) {
	s := BuildSettings(config.RecoverabilityConfig{
		Immediate: config.ImmediateConfig{MaxRetries: 5},
		Delayed:   config.DelayedConfig{NumberOfRetries: 3, TimeIncrease: time.Second},
	}, domain.TransactionModeNone)

	assert.True(t, s.NoTransactions)
	assert.False(t, s.ImmediateRetriesEnabled)
	assert.False(t, s.DelayedRetriesEnabled)
}

func TestBuildSettings_Disabled(t *testing.T) {
	s := BuildSettings(config.RecoverabilityConfig{
		Immediate: config.ImmediateConfig{Enabled: boolPtr(false), MaxRetries: 5},
		Delayed:   config.DelayedConfig{Enabled: boolPtr(false)},
	}, domain.TransactionModeReceiveOnly)

	assert.False(t, s.ImmediateRetriesEnabled)
	assert.False(t, s.DelayedRetriesEnabled)
	assert.Nil(t, s.DelayedRetryPolicy)
}
