package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostLimiterWaitReturnsPromptlyUnderGenerousRate(t *testing.T) {
	h := NewHostLimiter(1000) // generous rate so the call returns promptly
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx, "example.com"))
}

func TestHostLimiterWaitUnblocksOnCancelledContext(t *testing.T) {
	h := NewHostLimiter(0.001) // effectively one token, long refill
	ctx := context.Background()
	require.NoError(t, h.Wait(ctx, "example.com")) // consume the initial burst token

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.Wait(cancelCtx, "example.com")
	assert.Error(t, err, "a cancelled context must not block or panic")
}

func TestHostLimiterTracksHostsIndependently(t *testing.T) {
	h := NewHostLimiter(0.001)
	ctx := context.Background()
	require.NoError(t, h.Wait(ctx, "a.example.com"))

	// b.example.com has its own limiter and its own untouched burst token.
	fastCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.NoError(t, h.Wait(fastCtx, "b.example.com"))
}
