package storage

import (
	"context"
	"errors"
	"testing"

	"gembalance-go/internal/gberrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendConformance exercises the Backend contract that the pool relies
// on. Every backend implementation runs the same scenario.
func runBackendConformance(t *testing.T, backend Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		records, err := backend.LoadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		_, err = backend.Get(ctx, "missing")
		assert.ErrorIs(t, err, gberrors.ErrCredentialNotFound)
	})

	t.Run("seed and read back", func(t *testing.T) {
		require.NoError(t, backend.UpsertIfAbsent(ctx, "key-a"))
		require.NoError(t, backend.UpsertIfAbsent(ctx, "key-b"))

		rec, err := backend.Get(ctx, "key-a")
		require.NoError(t, err)
		assert.Equal(t, "key-a", rec.Value)
		assert.True(t, rec.Enabled)
		assert.Zero(t, rec.FailureCount)
		assert.False(t, rec.CreatedAt.IsZero())

		records, err := backend.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("upsert leaves existing state alone", func(t *testing.T) {
		require.NoError(t, backend.UpdateFailure(ctx, "key-a", 2, true))
		require.NoError(t, backend.UpsertIfAbsent(ctx, "key-a"))

		rec, err := backend.Get(ctx, "key-a")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.FailureCount)
	})

	t.Run("update failure state atomically", func(t *testing.T) {
		require.NoError(t, backend.UpdateFailure(ctx, "key-b", 3, false))

		rec, err := backend.Get(ctx, "key-b")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.FailureCount)
		assert.False(t, rec.Enabled)

		err = backend.UpdateFailure(ctx, "missing", 1, true)
		assert.True(t, errors.Is(err, gberrors.ErrCredentialNotFound), "got %v", err)
	})

	t.Run("bulk reset", func(t *testing.T) {
		require.NoError(t, backend.BulkReset(ctx))

		records, err := backend.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, rec := range records {
			assert.True(t, rec.Enabled)
			assert.Zero(t, rec.FailureCount)
		}
	})

	t.Run("health", func(t *testing.T) {
		require.NoError(t, backend.Health(ctx))
	})
}
