package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vk/medallion/internal/model"
)

func TestBackoff(t *testing.T) {
	p := model.RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}

	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Backoff(p, tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	p := model.RetryPolicy{InitialBackoff: time.Second, MaxBackoff: time.Minute, Multiplier: 1, Jitter: true}

	assert.Equal(t, 900*time.Millisecond, backoff(p, 1, func() float64 { return 0 }))
	assert.Equal(t, 1100*time.Millisecond, backoff(p, 1, func() float64 { return 1 }))

	for i := 0; i < 100; i++ {
		d := Backoff(p, 1)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}

func TestExhausted(t *testing.T) {
	p := model.RetryPolicy{MaxAttempts: 3}
	assert.False(t, Exhausted(p, 2))
	assert.True(t, Exhausted(p, 3))
	assert.True(t, Exhausted(p, 4))
}
