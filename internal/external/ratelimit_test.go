package external

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/types"
)

type countingProvider struct{ calls int }

func (c *countingProvider) Send(context.Context, types.SendInput) (string, error) {
	c.calls++
	return "ok", nil
}

func TestRateLimitedSender_PassesThroughWithinBurst(t *testing.T) {
	inner := &countingProvider{}
	s := NewRateLimitedSender(inner, 1, 3)

	for range 3 {
		id, err := s.Send(context.Background(), sampleInput())
		require.NoError(t, err)
		assert.Equal(t, "ok", id)
	}
	assert.Equal(t, 3, inner.calls)
}

func TestRateLimitedSender_CancelledWhileWaiting(t *testing.T) {
	inner := &countingProvider{}
	s := NewRateLimitedSender(inner, 0.001, 1)

	_, err := s.Send(context.Background(), sampleInput())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Send(ctx, sampleInput())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeUpstreamRateLimited))
	assert.Equal(t, 1, inner.calls)
}

func TestStubEmailProvider_CountsSends(t *testing.T) {
	stub := NewStubEmailProvider(nil)
	id, err := stub.Send(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Contains(t, id, "stub-")
	assert.EqualValues(t, 1, stub.Sent())
}
