package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

func TestPoolBusyWhenQueueFull(t *testing.T) {
	p := NewPool(1, 1)
	ctx := context.Background()

	release, err := p.Acquire(ctx)
	require.NoError(t, err)

	// Second caller waits in the queue.
	got := make(chan error, 1)
	go func() {
		r, err := p.Acquire(ctx)
		if err == nil {
			r()
		}
		got <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	// Third caller finds the queue full.
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.Equal(t, apperror.EngineBusy, apperror.CodeOf(err))
	assert.EqualValues(t, 1, p.Stats().Rejected)

	release()
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued caller never acquired")
	}
}

func TestPoolZeroQueueRejectsImmediately(t *testing.T) {
	p := NewPool(1, 0)
	release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = p.Acquire(context.Background())
	assert.Equal(t, apperror.EngineBusy, apperror.CodeOf(err))
}

func TestPoolWaitHonoursCancellation(t *testing.T) {
	p := NewPool(1, 4)
	release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 0, p.Stats().Waiting)
}

func TestPoolReleaseIdempotent(t *testing.T) {
	p := NewPool(2, 0)
	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r1()
	r1()
	assert.EqualValues(t, 0, p.Stats().Active)

	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r3, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.Stats().Active)
	r2()
	r3()
}
