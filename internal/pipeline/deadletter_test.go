package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medintel/geocoding-service/internal/domain"
)

func dlRecord(entityID, jobID string, at time.Time) domain.DeadLetterRecord {
	return domain.DeadLetterRecord{
		Address:   domain.Address{EntityID: entityID, Street1: "1 Elm St"},
		Hash:      "hash-" + entityID,
		JobID:     jobID,
		LastError: "no match",
		QueuedAt:  at,
	}
}

func TestDeadLetterStore_AddReplacesByEntity(t *testing.T) {
	s := NewDeadLetterStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Add(dlRecord("npi-1", "job-a", base))
	s.Add(dlRecord("npi-1", "job-b", base.Add(time.Hour)))

	assert.Equal(t, 1, s.Len(), "one record per entity, newest wins")
	all := s.List("")
	require.Len(t, all, 1)
	assert.Equal(t, "job-b", all[0].JobID)
}

func TestDeadLetterStore_ListFiltersByJobAndOrdersByTime(t *testing.T) {
	s := NewDeadLetterStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Add(dlRecord("npi-2", "job-a", base.Add(2*time.Minute)))
	s.Add(dlRecord("npi-1", "job-a", base))
	s.Add(dlRecord("npi-3", "job-b", base.Add(time.Minute)))

	jobA := s.List("job-a")
	require.Len(t, jobA, 2)
	assert.Equal(t, "npi-1", jobA[0].Address.EntityID)
	assert.Equal(t, "npi-2", jobA[1].Address.EntityID)

	all := s.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "npi-1", all[0].Address.EntityID)
	assert.Equal(t, "npi-3", all[1].Address.EntityID)
	assert.Equal(t, "npi-2", all[2].Address.EntityID)
}

func TestDeadLetterStore_Take(t *testing.T) {
	s := NewDeadLetterStore()
	s.Add(dlRecord("npi-1", "job-a", time.Now()))

	rec, ok := s.Take("npi-1")
	require.True(t, ok)
	assert.Equal(t, "npi-1", rec.Address.EntityID)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Take("npi-1")
	assert.False(t, ok)
}
