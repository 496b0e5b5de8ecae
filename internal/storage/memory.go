package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gembalance-go/internal/gberrors"
)

// MemoryBackend keeps credential records in process memory. It backs
// ephemeral deployments and tests; state does not survive a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]*Record)}
}

func (m *MemoryBackend) LoadAll(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryBackend) Get(_ context.Context, value string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[value]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryBackend) UpsertIfAbsent(_ context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[value]; ok {
		return nil
	}
	now := time.Now()
	m.records[value] = &Record{
		Value:     value,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (m *MemoryBackend) UpdateFailure(_ context.Context, value string, newCount int, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[value]
	if !ok {
		return fmt.Errorf("%w: %s", gberrors.ErrCredentialNotFound, value)
	}
	rec.FailureCount = newCount
	rec.Enabled = enabled
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryBackend) BulkReset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, rec := range m.records {
		rec.FailureCount = 0
		rec.Enabled = true
		rec.UpdatedAt = now
	}
	return nil
}

func (m *MemoryBackend) Health(_ context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
