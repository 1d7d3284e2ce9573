package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitWithinBurst(t *testing.T) {
	l := NewLimiter(1, 5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitDelaysBeyondBurst(t *testing.T) {
	l := NewLimiter(100, 1)

	require.NoError(t, l.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	l := NewLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
