package credential

import (
	"context"
	"sync"
	"testing"

	"gembalance-go/internal/gberrors"
	"gembalance-go/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, values []string, opts Options) (*Pool, *storage.MemoryBackend) {
	t.Helper()
	store := storage.NewMemoryBackend()
	pool := NewPool(store, opts)
	require.NoError(t, pool.Initialize(context.Background(), values))
	return pool, store
}

func TestParseRecoveryPolicy(t *testing.T) {
	t.Parallel()

	p, err := ParseRecoveryPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RecoverReset, p)

	p, err = ParseRecoveryPolicy("reset")
	require.NoError(t, err)
	assert.Equal(t, RecoverReset, p)

	p, err = ParseRecoveryPolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, RecoverFail, p)

	_, err = ParseRecoveryPolicy("bogus")
	require.Error(t, err)
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b"}, Options{})

	// Dirty one record, then re-seed with the same values plus a new one.
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 2, true))
	require.NoError(t, pool.Initialize(ctx, []string{"key-a", "key-b", "key-c", ""}))

	rec, err := store.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.FailureCount, "re-seeding must not reset existing state")

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3, "empty values must be skipped")
}

func TestAcquireNextRoundRobin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, _ := newTestPool(t, []string{"key-a", "key-b", "key-c"}, Options{})

	seen := make(map[string]int)
	for i := 0; i < 9; i++ {
		v, err := pool.AcquireNext(ctx)
		require.NoError(t, err)
		seen[v]++
	}
	assert.Len(t, seen, 3)
	for v, n := range seen {
		assert.Equalf(t, 3, n, "key %s not rotated fairly", v)
	}
}

func TestAcquireNextEmptyPool(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, nil, Options{})

	_, err := pool.AcquireNext(context.Background())
	assert.ErrorIs(t, err, gberrors.ErrPoolExhausted)
}

func TestAcquireNextSkipsDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b", "key-c"}, Options{})
	require.NoError(t, store.UpdateFailure(ctx, "key-b", 3, false))

	for i := 0; i < 6; i++ {
		v, err := pool.AcquireNext(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, "key-b", v)
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a"}, Options{MaxFailures: 3})

	ok, err := pool.IsValid(ctx, "key-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// At the threshold the key is no longer valid even if still enabled.
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 3, true))
	ok, err = pool.IsValid(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, ok)

	// An unknown value is invalid, not an error.
	ok, err = pool.IsValid(ctx, "never-seeded")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReportFailureIncrementsAndQuarantines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b"}, Options{MaxFailures: 3})

	for i := 1; i <= 2; i++ {
		_, err := pool.ReportFailure(ctx, "key-a")
		require.NoError(t, err)
		rec, err := store.Get(ctx, "key-a")
		require.NoError(t, err)
		assert.Equal(t, i, rec.FailureCount)
		assert.True(t, rec.Enabled, "key must stay enabled below the threshold")
	}

	next, err := pool.ReportFailure(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, "key-b", next)

	rec, err := store.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.FailureCount)
	assert.False(t, rec.Enabled, "third failure must quarantine the key")
}

func TestReportFailureUnknownValueStillRotates(t *testing.T) {
	t.Parallel()
	pool, _ := newTestPool(t, []string{"key-a"}, Options{})

	next, err := pool.ReportFailure(context.Background(), "never-seeded")
	require.NoError(t, err)
	assert.Equal(t, "key-a", next)
}

func TestGetNextWorkingSkipsQuarantined(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b", "key-c"}, Options{MaxFailures: 3})
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 3, false))

	for i := 0; i < 6; i++ {
		v, err := pool.GetNextWorking(ctx)
		require.NoError(t, err)
		assert.Contains(t, []string{"key-b", "key-c"}, v)
	}
}

func TestGetNextWorkingResetsExhaustedPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b"}, Options{MaxFailures: 2})
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 2, false))
	require.NoError(t, store.UpdateFailure(ctx, "key-b", 2, false))

	v, err := pool.GetNextWorking(ctx)
	require.NoError(t, err)
	assert.Contains(t, []string{"key-a", "key-b"}, v)

	records, err := store.LoadAll(ctx)
	require.NoError(t, err)
	for _, rec := range records {
		assert.True(t, rec.Enabled)
		assert.Zero(t, rec.FailureCount)
	}
}

func TestGetNextWorkingFailPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a"}, Options{MaxFailures: 2, Recovery: RecoverFail})
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 2, false))

	_, err := pool.GetNextWorking(ctx)
	assert.ErrorIs(t, err, gberrors.ErrPoolExhausted)

	// The pool must be left untouched.
	rec, err := store.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.False(t, rec.Enabled)
	assert.Equal(t, 2, rec.FailureCount)
}

func TestGetNextWorkingTerminatesWhenEnabledButOverThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// Enabled flag true but failure count at the threshold: every rotation
	// candidate is invalid, so a full cycle must end in recovery instead of
	// spinning forever.
	pool, store := newTestPool(t, []string{"key-a", "key-b"}, Options{MaxFailures: 2})
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 2, true))
	require.NoError(t, store.UpdateFailure(ctx, "key-b", 2, true))

	v, err := pool.GetNextWorking(ctx)
	require.NoError(t, err)
	assert.Contains(t, []string{"key-a", "key-b"}, v)
}

func TestConcurrentReportFailureLosesNoUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const reports = 50
	pool, store := newTestPool(t, []string{"key-a", "key-b"}, Options{MaxFailures: reports + 1})

	var wg sync.WaitGroup
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.ReportFailure(ctx, "key-a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := store.Get(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, reports, rec.FailureCount)
}

func TestKeysByStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b", "key-c"}, Options{MaxFailures: 3})
	require.NoError(t, store.UpdateFailure(ctx, "key-b", 1, true))
	require.NoError(t, store.UpdateFailure(ctx, "key-c", 3, false))

	valid, invalid, err := pool.KeysByStatus(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"key-a": 0, "key-b": 1}, valid)
	assert.Equal(t, map[string]int{"key-c": 3}, invalid)
}

func TestResetAllFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pool, store := newTestPool(t, []string{"key-a", "key-b"}, Options{MaxFailures: 2})
	require.NoError(t, store.UpdateFailure(ctx, "key-a", 2, false))

	require.NoError(t, pool.ResetAllFailures(ctx))

	valid, invalid, err := pool.KeysByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, valid, 2)
	assert.Empty(t, invalid)
}
