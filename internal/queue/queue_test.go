package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"driftsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	return &logger
}

func openTestQueue(t *testing.T, path string) *Queue {
	t.Helper()
	q, err := Open(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueuePeekRemove(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, models.KindCreateBooking, []byte(`{"room":12}`), 2)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	assert.Equal(t, 0, a.RetryCount)
	assert.Equal(t, 2, a.MaxRetries)

	head, err := q.PeekOldest(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, a.ID, head.ID)
	assert.Equal(t, []byte(`{"room":12}`), head.Payload)

	// peek does not remove
	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, q.Remove(ctx, a.ID))
	head, err = q.PeekOldest(ctx)
	require.NoError(t, err)
	assert.Nil(t, head)

	// idempotent when already absent
	require.NoError(t, q.Remove(ctx, a.ID))
}

func TestFIFOOrderAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	q := openTestQueue(t, path)
	ctx := context.Background()

	var ids []string
	for _, kind := range []string{models.KindCreateBooking, models.KindCheckIn, models.KindCancelBooking} {
		a, err := q.Enqueue(ctx, kind, nil, 0)
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	require.NoError(t, q.Close())

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	actions, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	for i, a := range actions {
		assert.Equal(t, ids[i], a.ID, "submission order must survive restart")
	}

	head, err := reopened.PeekOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[0], head.ID)
}

func TestIncrementRetry(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, models.KindCheckOut, nil, 3)
	require.NoError(t, err)

	count, err := q.IncrementRetry(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = q.IncrementRetry(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	head, err := q.PeekOldest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, head.RetryCount)
}

func TestMarkFailed(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, models.KindUpdateProfile, nil, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, a.ID, "validation rejected"))

	// no longer pending
	head, err := q.PeekOldest(ctx)
	require.NoError(t, err)
	assert.Nil(t, head)

	failed, err := q.FailedActions(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a.ID, failed[0].ID)
	require.NotNil(t, failed[0].LastError)
	assert.Equal(t, "validation rejected", *failed[0].LastError)
	assert.NotNil(t, failed[0].FailedAt)
}

func TestClearKeepsFailed(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, models.KindCreateBooking, nil, 0)
	require.NoError(t, err)
	require.NoError(t, q.MarkFailed(ctx, a.ID, "boom"))

	_, err = q.Enqueue(ctx, models.KindCheckIn, nil, 0)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, models.KindCheckOut, nil, 0)
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	failed, err := q.FailedActions(ctx)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestDefaultMaxRetries(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	a, err := q.Enqueue(ctx, models.KindCreateBooking, nil, -1)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMaxRetries, a.MaxRetries)
}

func TestConcurrentEnqueueSerialized(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	const numGoroutines = 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, models.KindCreateBooking, nil, 0)
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}

	actions, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, numGoroutines)

	seen := make(map[string]bool, numGoroutines)
	for i, a := range actions {
		assert.False(t, seen[a.ID], "duplicate action id %s", a.ID)
		seen[a.ID] = true
		if i > 0 {
			assert.Greater(t, a.Seq, actions[i-1].Seq, "seq must be strictly increasing")
		}
	}
}

func TestConcurrentMutationsStayConsistent(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	var removed, retried []string
	for i := 0; i < 10; i++ {
		a, err := q.Enqueue(ctx, models.KindCreateBooking, nil, 3)
		require.NoError(t, err)
		removed = append(removed, a.ID)
	}
	for i := 0; i < 10; i++ {
		a, err := q.Enqueue(ctx, models.KindCheckIn, nil, 3)
		require.NoError(t, err)
		retried = append(retried, a.ID)
	}

	var wg sync.WaitGroup
	results := make(chan error, 30)

	for _, id := range removed {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			results <- q.Remove(ctx, id)
		}(id)
	}
	for _, id := range retried {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := q.IncrementRetry(ctx, id)
			results <- err
		}(id)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, models.KindCheckOut, nil, 0)
			results <- err
		}()
	}

	wg.Wait()
	close(results)
	for err := range results {
		assert.NoError(t, err)
	}

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	actions, err := q.List(ctx)
	require.NoError(t, err)
	byID := make(map[string]models.Action, len(actions))
	for _, a := range actions {
		byID[a.ID] = a
	}
	for _, id := range removed {
		_, ok := byID[id]
		assert.False(t, ok, "removed action %s still listed", id)
	}
	for _, id := range retried {
		a, ok := byID[id]
		require.True(t, ok, "retried action %s missing", id)
		assert.Equal(t, 1, a.RetryCount)
	}
}

func TestStorageErrorSurfaced(t *testing.T) {
	q := openTestQueue(t, filepath.Join(t.TempDir(), "queue.db"))
	ctx := context.Background()

	require.NoError(t, q.Close())

	_, err := q.Enqueue(ctx, models.KindCreateBooking, nil, 0)
	require.Error(t, err)

	var storageErr *StorageError
	assert.True(t, errors.As(err, &storageErr), "enqueue on a broken store must yield StorageError, got %v", err)
}
