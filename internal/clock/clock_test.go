package clock

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationHint(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"1s", time.Second},
		{"6m0s", 6 * time.Minute},
		{"2m30s", 2*time.Minute + 30*time.Second},
		{"30", 30 * time.Second},
		{"-4", 0},
		{"soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDurationHint(tt.in))
		})
	}
}

func TestRetryAfter_HTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	header := now.Add(90 * time.Second).Format(http.TimeFormat)

	assert.Equal(t, 90*time.Second, RetryAfter(header, now))
	assert.Zero(t, RetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

func TestFake_SleepAdvancesTime(t *testing.T) {
	start := time.Unix(1000, 0)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), 250*time.Millisecond))
	f.Advance(time.Second)

	assert.Equal(t, start.Add(1250*time.Millisecond), f.Now())
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, f.Sleeps())
}

func TestFake_SleepHonoursCancelledContext(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.Sleep(ctx, time.Second), context.Canceled)
	assert.Empty(t, f.Sleeps())
}

func TestReal_SleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := Real{}.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
