package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Nanosecond,
		MaxBackoff:     time.Nanosecond,
		ShouldRetry:    func(error) bool { return true },
	}
}

func TestDoValSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	val, err := DoVal(context.Background(), fastConfig(), "test", func(context.Context) (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errBoom
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, attempts)
}

func TestDoValExhaustsAttempts(t *testing.T) {
	attempts := 0
	_, err := DoVal(context.Background(), fastConfig(), "test", func(context.Context) (int, error) {
		attempts++
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	cfg := fastConfig()
	cfg.ShouldRetry = func(error) bool { return false }

	attempts := 0
	err := Do(context.Background(), cfg, "test", func(context.Context) error {
		attempts++
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts, "non-retryable errors get a single attempt")
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := Do(ctx, fastConfig(), "test", func(context.Context) error {
		attempts++
		cancel()
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, attempts)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline exceeded" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errBoom, false},
		{"net timeout", net.Error(timeoutErr{}), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"wrapped reset message", errors.New("read tcp: connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientStatus(t *testing.T) {
	assert.True(t, IsTransientStatus(429))
	assert.True(t, IsTransientStatus(503))
	assert.False(t, IsTransientStatus(400))
	assert.False(t, IsTransientStatus(401))
}
