package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medintel/geocoding-service/internal/domain"
)

type fakeJobService struct {
	submitID   string
	submitErr  error
	submitted  []domain.Address
	priority   domain.Priority
	sourceTag  string
	snapshot   domain.JobSnapshot
	statusErr  error
	failures   []domain.DeadLetterRecord
	retryID    string
	retryErr   error
	retriedFor string
}

func (f *fakeJobService) Submit(addresses []domain.Address, priority domain.Priority, sourceTag string) (string, error) {
	f.submitted = addresses
	f.priority = priority
	f.sourceTag = sourceTag
	return f.submitID, f.submitErr
}

func (f *fakeJobService) Status(jobID string) (domain.JobSnapshot, error) {
	return f.snapshot, f.statusErr
}

func (f *fakeJobService) ListFailures(jobID string) []domain.DeadLetterRecord {
	return f.failures
}

func (f *fakeJobService) RetryFailure(entityID string) (string, error) {
	f.retriedFor = entityID
	return f.retryID, f.retryErr
}

type fakeReadiness struct {
	err error
}

func (f *fakeReadiness) CheckReadiness(_ context.Context) error { return f.err }

func newTestServer(jobs *fakeJobService, ready *fakeReadiness) *Server {
	if ready == nil {
		ready = &fakeReadiness{}
	}
	return NewServer(":0", jobs, ready, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitJob(t *testing.T) {
	jobs := &fakeJobService{submitID: "job-123"}
	s := newTestServer(jobs, nil)

	body := `{
		"addresses": [{"entity_id": "npi-1", "street1": "123 Main St", "city": "Austin", "state": "TX", "postal_code": "78701"}],
		"priority": "high",
		"source_tag": "nightly-import"
	}`
	rec := doRequest(s, http.MethodPost, "/jobs", body)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-123", resp["job_id"])

	require.Len(t, jobs.submitted, 1)
	assert.Equal(t, "npi-1", jobs.submitted[0].EntityID)
	assert.Equal(t, domain.PriorityHigh, jobs.priority)
	assert.Equal(t, "nightly-import", jobs.sourceTag)
}

func TestServer_SubmitJob_InvalidBody(t *testing.T) {
	s := newTestServer(&fakeJobService{}, nil)
	rec := doRequest(s, http.MethodPost, "/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitJob_EmptyBatchRejected(t *testing.T) {
	jobs := &fakeJobService{submitErr: errors.New("empty batch")}
	s := newTestServer(jobs, nil)

	rec := doRequest(s, http.MethodPost, "/jobs", `{"addresses": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "empty batch")
}

func TestServer_JobStatus(t *testing.T) {
	jobs := &fakeJobService{snapshot: domain.JobSnapshot{
		ID:     "job-123",
		Status: domain.JobCompleted,
		Counters: domain.JobCounters{
			Total:     3,
			Unique:    2,
			Completed: 3,
		},
	}}
	s := newTestServer(jobs, nil)

	rec := doRequest(s, http.MethodGet, "/jobs/job-123", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.JobSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "job-123", snap.ID)
	assert.Equal(t, domain.JobCompleted, snap.Status)
	assert.Equal(t, 3, snap.Counters.Total)
}

func TestServer_JobStatus_Unknown(t *testing.T) {
	jobs := &fakeJobService{statusErr: errors.New(`unknown job "nope"`)}
	s := newTestServer(jobs, nil)

	rec := doRequest(s, http.MethodGet, "/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListFailures(t *testing.T) {
	jobs := &fakeJobService{failures: []domain.DeadLetterRecord{
		{Address: domain.Address{EntityID: "npi-1"}, JobID: "job-123", LastError: "no match"},
	}}
	s := newTestServer(jobs, nil)

	rec := doRequest(s, http.MethodGet, "/failures?job=job-123", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count    int                       `json:"count"`
		Failures []domain.DeadLetterRecord `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "npi-1", resp.Failures[0].Address.EntityID)
}

func TestServer_RetryFailure(t *testing.T) {
	jobs := &fakeJobService{retryID: "job-456"}
	s := newTestServer(jobs, nil)

	rec := doRequest(s, http.MethodPost, "/failures/npi-1/retry", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "npi-1", jobs.retriedFor)
	assert.Contains(t, rec.Body.String(), "job-456")
}

func TestServer_RetryFailure_Unknown(t *testing.T) {
	jobs := &fakeJobService{retryErr: errors.New(`no dead-letter record for entity "npi-9"`)}
	s := newTestServer(jobs, nil)

	rec := doRequest(s, http.MethodPost, "/failures/npi-9/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(&fakeJobService{}, nil)
	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_Readiness(t *testing.T) {
	s := newTestServer(&fakeJobService{}, &fakeReadiness{})
	rec := doRequest(s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(&fakeJobService{}, &fakeReadiness{err: errors.New("worker pool not started")})
	rec = doRequest(s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "worker pool not started")
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeJobService{}, nil)
	rec := doRequest(s, http.MethodDelete, "/jobs", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
