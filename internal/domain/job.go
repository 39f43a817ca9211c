package domain

import "time"

// Priority orders the job queue. It never affects correctness, only which
// queued work a free worker picks up first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority maps the wire form to a Priority, defaulting to NORMAL.
func ParsePriority(s string) Priority {
	switch s {
	case "HIGH", "high":
		return PriorityHigh
	case "LOW", "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "NORMAL"
	}
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

const (
	JobQueued          JobStatus = "QUEUED"
	JobInProgress      JobStatus = "IN_PROGRESS"
	JobCompleted       JobStatus = "COMPLETED"
	JobPartiallyFailed JobStatus = "PARTIALLY_FAILED"
)

// JobCounters tracks per-job progress. Updated atomically by the
// coordinator as workers report outcomes.
type JobCounters struct {
	Total            int            `json:"total"`     // input addresses, before deduplication
	Unique           int            `json:"unique"`    // distinct normalized hashes
	Completed        int            `json:"completed"` // input addresses with a terminal outcome
	CacheHits        int            `json:"cache_hits"`
	ProviderCalls    map[string]int `json:"provider_calls"`
	Failed           int            `json:"failed"` // input addresses that ended in dead-letter
	LowAccuracy      int            `json:"low_accuracy"`
	NonGeocodable    int            `json:"non_geocodable"`
	DeadlineExceeded int            `json:"deadline_exceeded"`
}

// AddressOutcome is the terminal result for one input address in a job.
type AddressOutcome struct {
	EntityID string        `json:"entity_id"`
	Hash     string        `json:"hash"`
	Result   GeocodeResult `json:"result,omitempty"`
	CacheHit bool          `json:"cache_hit,omitempty"`
	Failed   bool          `json:"failed,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// JobSnapshot is an immutable view of a job returned by status queries.
// A snapshot is internally consistent: counters never contradict Status.
type JobSnapshot struct {
	ID                 string           `json:"id"`
	Status             JobStatus        `json:"status"`
	Priority           Priority         `json:"-"`
	SourceTag          string           `json:"source_tag,omitempty"`
	Counters           JobCounters      `json:"counters"`
	Outcomes           []AddressOutcome `json:"outcomes,omitempty"`
	SubmittedAt        time.Time        `json:"submitted_at"`
	FinishedAt         time.Time        `json:"finished_at,omitzero"`
	EstimatedRemaining time.Duration    `json:"estimated_remaining_ns"`
}

// AttemptRecord documents one provider attempt within a resolution, in
// chain order. Carried into dead-letter records for manual review.
type AttemptRecord struct {
	Provider string      `json:"provider"`
	Pass     int         `json:"pass"`
	Kind     FailureKind `json:"kind,omitempty"` // empty on success
	Error    string      `json:"error,omitempty"`
	At       time.Time   `json:"at"`
}

// DeadLetterRecord is the terminal failure record for an address that
// exhausted all providers and retry passes. Terminal until a human retry
// re-injects it as a fresh job.
type DeadLetterRecord struct {
	Address   Address         `json:"address"`
	Hash      string          `json:"hash"`
	JobID     string          `json:"job_id"`
	Attempts  []AttemptRecord `json:"attempts,omitempty"`
	LastError string          `json:"last_error"`
	QueuedAt  time.Time       `json:"queued_at"`
}
