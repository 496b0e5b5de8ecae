package storage

import (
	"context"
	"time"

	"gembalance-go/internal/constants"
)

// Record is the durable state of one upstream credential.
type Record struct {
	Value        string
	Enabled      bool
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Backend is the durable credential store consumed by the pool. Every
// operation is expected to be atomic at the single-record (or single bulk
// statement) level; the pool never spans multi-record transactions across
// calls.
type Backend interface {
	// LoadAll returns every credential record.
	LoadAll(ctx context.Context) ([]Record, error)
	// Get returns one record, or an error wrapping
	// gberrors.ErrCredentialNotFound when no record exists for value.
	Get(ctx context.Context, value string) (*Record, error)
	// UpsertIfAbsent creates an enabled record with a zero failure count
	// unless one already exists. Uniqueness conflicts raised by concurrent
	// seeders are treated as success.
	UpsertIfAbsent(ctx context.Context, value string) error
	// UpdateFailure writes the failure count and enabled flag together in
	// one atomic update.
	UpdateFailure(ctx context.Context, value string, newCount int, enabled bool) error
	// BulkReset re-enables every credential and zeroes its failure count in
	// a single statement.
	BulkReset(ctx context.Context) error
	// Health reports whether the store is reachable.
	Health(ctx context.Context) error
	Close() error
}

// withOpTimeout applies the storage ceiling when the caller's context has no
// earlier deadline.
func withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < constants.StorageOpTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, constants.StorageOpTimeout)
}
