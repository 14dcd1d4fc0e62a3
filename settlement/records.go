package settlement

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/cloudx-io/rentauction/core"
)

// RecordStore keeps the latest settlement record per property.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec core.SettlementRecord) error
	// LoadRecord returns core.ErrRecordNotFound when the property was never settled.
	LoadRecord(ctx context.Context, propertyID string) (core.SettlementRecord, error)
	PendingRecords(ctx context.Context) ([]core.SettlementRecord, error)
}

// MemoryRecordStore is a RecordStore for tests and database-less runs.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]core.SettlementRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]core.SettlementRecord)}
}

func (s *MemoryRecordStore) SaveRecord(_ context.Context, rec core.SettlementRecord) error {
	rec.Proof = slices.Clone(rec.Proof)
	s.mu.Lock()
	s.records[rec.PropertyID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryRecordStore) LoadRecord(_ context.Context, propertyID string) (core.SettlementRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[propertyID]
	s.mu.RUnlock()
	if !ok {
		return core.SettlementRecord{}, fmt.Errorf("%w: %s", core.ErrRecordNotFound, propertyID)
	}
	return rec, nil
}

func (s *MemoryRecordStore) PendingRecords(_ context.Context) ([]core.SettlementRecord, error) {
	s.mu.RLock()
	var out []core.SettlementRecord
	for _, rec := range s.records {
		if rec.Status == core.SettlementPending {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PropertyID < out[j].PropertyID
	})
	return out, nil
}
