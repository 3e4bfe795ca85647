package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastConfig(retries int) RetryConfig {
	return RetryConfig{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return &StatusError{Service: "stt", Code: http.StatusServiceUnavailable}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsRetries(t *testing.T) {
	calls := 0
	want := &StatusError{Service: "chat", Code: http.StatusTooManyRequests}
	err := Retry(context.Background(), fastConfig(2), func() error {
		calls++
		return want
	})

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnClientError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(5), func() error {
		calls++
		return &StatusError{Service: "chat", Code: http.StatusUnauthorized}
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryZeroRetriesCallsOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastConfig(0), func() error {
		calls++
		return errors.New("connection reset")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second}

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Retry(ctx, cfg, func() error {
		calls++
		return errors.New("connection refused")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{Code: 429}, true},
		{"server error", &StatusError{Code: 502}, true},
		{"bad request", &StatusError{Code: 400}, false},
		{"wrapped server error", fmt.Errorf("call: %w", &StatusError{Code: 500}), true},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", fmt.Errorf("call: %w", context.Canceled), false},
		{"transport", errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 2 * time.Second, JitterFactor: 0.2}.withDefaults()

	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(cfg, attempt)
		assert.LessOrEqual(t, d, 2*time.Second+200*time.Millisecond)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
	}
}
