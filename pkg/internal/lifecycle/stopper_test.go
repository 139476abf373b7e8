package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dockhardman/mqflow/pkg/internal/lifecycle"
)

func TestStopper(t *testing.T) {
	t.Parallel()

	var s lifecycle.Stopper
	ctx, cancel := s.Context(context.Background())
	defer cancel()

	assert.False(t, s.Stopped())
	s.Stop()
	s.Stop()
	assert.True(t, s.Stopped(), "Stop should be idempotent.")

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Context should be canceled by Stop.")
	}
}

func TestSlice(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.Equal(t, lifecycle.MaxWaitSlice, lifecycle.Slice(0, now), "Unbounded waits use full slices.")
	assert.Equal(t, lifecycle.MaxWaitSlice, lifecycle.Slice(time.Hour, now))

	d := lifecycle.Slice(300*time.Millisecond, now)
	assert.LessOrEqual(t, d, 300*time.Millisecond, "Slices should not exceed the remaining budget.")
	assert.Greater(t, d, time.Duration(0))

	assert.Equal(t, time.Millisecond, lifecycle.Slice(time.Millisecond, now.Add(-time.Second)))
	assert.True(t, lifecycle.Expired(time.Millisecond, now.Add(-time.Second)))
	assert.False(t, lifecycle.Expired(0, now.Add(-time.Hour)), "Zero budget never expires.")
}
