package pipeline

import (
	"sort"
	"sync"

	"github.com/medintel/geocoding-service/internal/domain"
)

// DeadLetterStore holds terminal failures keyed by entity id, awaiting
// manual review. Keying by entity id guarantees at most one record per
// address no matter how many retry passes or re-submissions failed.
type DeadLetterStore struct {
	mu      sync.Mutex
	records map[string]domain.DeadLetterRecord
}

// NewDeadLetterStore creates an empty store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{records: make(map[string]domain.DeadLetterRecord)}
}

// Add inserts or replaces the record for its address's entity id.
func (s *DeadLetterStore) Add(rec domain.DeadLetterRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Address.EntityID] = rec
}

// List returns records for one job, or all records when jobID is empty,
// ordered by queue time.
func (s *DeadLetterStore) List(jobID string) []domain.DeadLetterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.DeadLetterRecord, 0, len(s.records))
	for _, rec := range s.records {
		if jobID == "" || rec.JobID == jobID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out
}

// Take removes and returns the record for an entity id, if present.
// Used by manual retry to re-inject the address as a fresh job.
func (s *DeadLetterStore) Take(entityID string) (domain.DeadLetterRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[entityID]
	if ok {
		delete(s.records, entityID)
	}
	return rec, ok
}

// Len reports the number of stored records.
func (s *DeadLetterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
