package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish", h.ID)
	}
}

func TestSpawnRunsUntilReleased(t *testing.T) {
	r := NewRegistry()

	release := make(chan struct{})
	h, err := r.Spawn("job_1", func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.Running())
	assert.Equal(t, []string{"job_1"}, r.Active())

	close(release)
	waitDone(t, h)
	assert.NoError(t, h.Err())
	assert.Empty(t, r.Active())
}

func TestSpawnRejectsRunningDuplicate(t *testing.T) {
	r := NewRegistry()
	block := make(chan struct{})
	h, err := r.Spawn("job_1", func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	_, err = r.Spawn("job_1", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrWorkerExists)

	close(block)
	waitDone(t, h)

	again, err := r.Spawn("job_1", func(ctx context.Context) error { return nil })
	require.NoError(t, err, "a finished id may be reused")
	waitDone(t, again)
}

func TestCancel(t *testing.T) {
	r := NewRegistry()
	h, err := r.Spawn("job_1", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	require.NoError(t, r.Cancel("job_1"))
	waitDone(t, h)
	assert.ErrorIs(t, h.Err(), context.Canceled)

	assert.NoError(t, r.Cancel("job_1"), "cancelling a finished task is a no-op")
	assert.ErrorIs(t, r.Cancel("job_missing"), ErrWorkerNotFound)
}

func TestCancelOnlyAffectsOneTask(t *testing.T) {
	r := NewRegistry()
	other := make(chan struct{})
	a, err := r.Spawn("a", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	b, err := r.Spawn("b", func(ctx context.Context) error {
		select {
		case <-other:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.NoError(t, err)

	require.NoError(t, r.Cancel("a"))
	waitDone(t, a)
	assert.True(t, b.Running())

	close(other)
	waitDone(t, b)
	assert.NoError(t, b.Err())
}

func TestPanicIsRecovered(t *testing.T) {
	r := NewRegistry()
	h, err := r.Spawn("boom", func(ctx context.Context) error {
		panic("engine exploded")
	})
	require.NoError(t, err)
	waitDone(t, h)
	require.Error(t, h.Err())
	assert.Contains(t, h.Err().Error(), "engine exploded")
}

func TestGetAndActiveOrder(t *testing.T) {
	r := NewRegistry()
	block := make(chan struct{})
	for _, id := range []string{"first", "second"} {
		_, err := r.Spawn(id, func(ctx context.Context) error {
			<-block
			return nil
		})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	assert.Equal(t, []string{"first", "second"}, r.Active())
	h, ok := r.Get("second")
	require.True(t, ok)
	assert.Equal(t, "second", h.ID)
	_, ok = r.Get("third")
	assert.False(t, ok)

	close(block)
	require.NoError(t, r.Wait(context.Background()))
}

func TestWait(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	_, err := r.Spawn("slow", func(ctx context.Context) error {
		<-release
		return errors.New("done anyway")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	_, err = r.Spawn("late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRegistryClosed)

	close(release)
	assert.NoError(t, r.Wait(context.Background()))
}

func TestCancelAll(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Spawn(id, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.NoError(t, err)
	}
	r.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
	assert.Empty(t, r.Active())
}

func TestFinishedHandlesAreBounded(t *testing.T) {
	r := NewRegistry()
	total := RecentLimit + 20
	handles := make([]*Handle, 0, total)
	for i := 0; i < total; i++ {
		h, err := r.Spawn(fmt.Sprintf("job_%d", i), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
		waitDone(t, h)
		handles = append(handles, h)
	}

	r.mu.Lock()
	assert.Empty(t, r.handles, "finished tasks leave the running table")
	assert.Len(t, r.recent, RecentLimit)
	r.mu.Unlock()
	assert.Empty(t, r.Active())

	last := handles[total-1].ID
	got, ok := r.Get(last)
	require.True(t, ok)
	assert.False(t, got.Running())
	assert.NoError(t, r.Cancel(last), "cancelling a recently finished task is a no-op")

	// The oldest ones have been forgotten.
	_, ok = r.Get("job_0")
	assert.False(t, ok)
	assert.ErrorIs(t, r.Cancel("job_0"), ErrWorkerNotFound)

	// A finished id can be reused.
	h, err := r.Spawn(last, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	waitDone(t, h)
}
