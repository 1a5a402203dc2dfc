package activity

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process [Store]. The zero value is ready to use.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, r Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := slices.IndexFunc(m.records, func(x Record) bool { return x.ID == r.ID }); i >= 0 {
		m.records[i] = r
		return nil
	}
	m.records = append(m.records, r)
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	out := slices.Clone(m.records)
	m.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Record) int {
		return b.EndedAt.Compare(a.EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
