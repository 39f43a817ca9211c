package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/medintel/geocoding-service/internal/domain"
	"github.com/medintel/geocoding-service/internal/observability"
)

// addressResolver is the orchestrator contract the coordinator depends
// on, narrowed for testability with scripted fakes.
type addressResolver interface {
	Resolve(ctx context.Context, addr domain.NormalizedAddress, policy domain.ResolutionPolicy) (domain.GeocodeResult, []domain.AttemptRecord, error)
}

// job is the coordinator's mutable batch state. All mutation happens
// under mu so a concurrent Status call never observes an impossible
// combination of counters and status.
type job struct {
	mu sync.Mutex

	id          string
	status      domain.JobStatus
	priority    domain.Priority
	sourceTag   string
	counters    domain.JobCounters
	outcomes    []domain.AddressOutcome
	submittedAt time.Time
	finishedAt  time.Time
	deadline    time.Time
	policy      domain.ResolutionPolicy

	pendingUnique  int
	resolvedUnique int
	resolveTime    time.Duration
}

// unitResult is the terminal outcome of processing one unique hash.
type unitResult struct {
	outcomes         []domain.AddressOutcome
	attempts         []domain.AttemptRecord
	cacheHit         bool
	lowAccuracy      bool
	failed           bool
	deadlineExceeded bool
	duration         time.Duration
}

func (j *job) markInProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == domain.JobQueued {
		j.status = domain.JobInProgress
	}
}

// applyUnit folds a unit result into the job atomically. Returns the
// terminal status when this was the last pending unit, or "".
func (j *job) applyUnit(u unitResult, now time.Time) domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.outcomes = append(j.outcomes, u.outcomes...)
	j.counters.Completed += len(u.outcomes)
	for _, rec := range u.attempts {
		j.counters.ProviderCalls[rec.Provider]++
	}
	if u.cacheHit {
		j.counters.CacheHits++
	}
	if u.lowAccuracy {
		j.counters.LowAccuracy += len(u.outcomes)
	}
	if u.failed {
		j.counters.Failed += len(u.outcomes)
	}
	if u.deadlineExceeded {
		j.counters.DeadlineExceeded += len(u.outcomes)
	}

	j.pendingUnique--
	j.resolvedUnique++
	j.resolveTime += u.duration

	if j.pendingUnique > 0 {
		return ""
	}
	return j.finalizeLocked(now)
}

// finalizeLocked stamps the terminal status. Caller holds j.mu.
func (j *job) finalizeLocked(now time.Time) domain.JobStatus {
	if j.counters.Failed > 0 {
		j.status = domain.JobPartiallyFailed
	} else {
		j.status = domain.JobCompleted
	}
	j.finishedAt = now
	return j.status
}

// snapshot copies the job state for a status query.
func (j *job) snapshot(now time.Time, workers int) domain.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	counters := j.counters
	counters.ProviderCalls = make(map[string]int, len(j.counters.ProviderCalls))
	for k, v := range j.counters.ProviderCalls {
		counters.ProviderCalls[k] = v
	}

	var estimated time.Duration
	if j.pendingUnique > 0 && j.resolvedUnique > 0 {
		avg := j.resolveTime / time.Duration(j.resolvedUnique)
		estimated = avg * time.Duration(j.pendingUnique) / time.Duration(workers)
	}

	return domain.JobSnapshot{
		ID:                 j.id,
		Status:             j.status,
		Priority:           j.priority,
		SourceTag:          j.sourceTag,
		Counters:           counters,
		Outcomes:           append([]domain.AddressOutcome(nil), j.outcomes...),
		SubmittedAt:        j.submittedAt,
		FinishedAt:         j.finishedAt,
		EstimatedRemaining: estimated,
	}
}

// Coordinator accepts batch jobs, deduplicates addresses by normalized
// hash, and drains the resulting unique work through a bounded worker
// pool. Each worker runs one resolution (cache, then fallback chain) to
// completion before taking the next item.
type Coordinator struct {
	resolver    addressResolver
	cache       domain.GeocodeCache
	sink        domain.ResultSink // nil disables store-of-record writes
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	basePolicy  domain.ResolutionPolicy
	workers     int
	queue       *workQueue
	deadLetters *DeadLetterStore

	mu   sync.Mutex
	jobs map[string]*job

	running atomic.Bool
}

// NewCoordinator creates a Coordinator with the given resolution policy
// and worker pool size.
func NewCoordinator(resolver addressResolver, cache domain.GeocodeCache, sink domain.ResultSink, policy domain.ResolutionPolicy, workers int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	return &Coordinator{
		resolver:    resolver,
		cache:       cache,
		sink:        sink,
		clock:       clock,
		logger:      logger,
		metrics:     metrics,
		basePolicy:  policy,
		workers:     workers,
		queue:       newWorkQueue(),
		deadLetters: NewDeadLetterStore(),
		jobs:        make(map[string]*job),
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// in-flight resolutions have finished.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "workers", c.workers)
	c.metrics.CoordinatorRunning.Set(1)
	defer c.metrics.CoordinatorRunning.Set(0)

	c.running.Store(true)
	defer c.running.Store(false)

	go func() {
		<-ctx.Done()
		c.queue.close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx)
		}()
	}
	wg.Wait()

	c.logger.Info("coordinator stopped", "reason", context.Cause(ctx))
	return nil
}

// CheckReadiness returns nil once the worker pool is running.
func (c *Coordinator) CheckReadiness(_ context.Context) error {
	if !c.running.Load() {
		return errors.New("worker pool not started")
	}
	return nil
}

// Submit accepts a batch, deduplicates it by normalized hash, and returns
// immediately with the job id. The policy in force is snapshotted now;
// later reconfiguration never affects this job.
func (c *Coordinator) Submit(addresses []domain.Address, priority domain.Priority, sourceTag string) (string, error) {
	if len(addresses) == 0 {
		return "", errors.New("empty batch")
	}

	// Deduplicate, preserving first-seen order of unique hashes.
	type group struct {
		addr      domain.NormalizedAddress
		entityIDs []string
	}
	groups := make(map[string]*group)
	var order []string
	for _, a := range addresses {
		na := domain.Normalize(a)
		g, ok := groups[na.Hash]
		if !ok {
			g = &group{addr: na}
			groups[na.Hash] = g
			order = append(order, na.Hash)
		}
		g.entityIDs = append(g.entityIDs, a.EntityID)
	}

	now := c.clock.Now()
	j := &job{
		id:          uuid.NewString(),
		status:      domain.JobQueued,
		priority:    priority,
		sourceTag:   sourceTag,
		submittedAt: now,
		deadline:    now.Add(c.basePolicy.JobDeadline),
		policy:      c.basePolicy,
		counters: domain.JobCounters{
			Total:         len(addresses),
			Unique:        len(order),
			ProviderCalls: make(map[string]int),
		},
	}

	var queued []*workItem
	for _, hash := range order {
		g := groups[hash]
		if g.addr.NonGeocodable {
			continue
		}
		j.pendingUnique++
		queued = append(queued, &workItem{job: j, addr: g.addr, entityIDs: g.entityIDs})
	}

	c.mu.Lock()
	c.jobs[j.id] = j
	c.mu.Unlock()
	c.metrics.JobsSubmitted.Inc()

	// PO-Box style addresses skip providers entirely and land straight in
	// the dead-letter set for manual handling. All of them fold into the
	// job as one atomic update so Status never sees a half-applied batch.
	var dead unitResult
	for _, hash := range order {
		g := groups[hash]
		if !g.addr.NonGeocodable {
			continue
		}
		du := c.deadLetterUnit(j, g.addr, g.entityIDs, nil, "address is not geocodable (PO Box)")
		dead.outcomes = append(dead.outcomes, du.outcomes...)
		dead.failed = true
	}
	if dead.failed {
		c.applyImmediate(j, dead)
	}

	for _, item := range queued {
		c.queue.push(item, priority)
	}

	c.logger.Info("job submitted",
		"job_id", j.id,
		"source_tag", sourceTag,
		"priority", priority.String(),
		"total", len(addresses),
		"unique", len(order),
	)
	return j.id, nil
}

// Status returns a consistent snapshot of a job.
func (c *Coordinator) Status(jobID string) (domain.JobSnapshot, error) {
	c.mu.Lock()
	j, ok := c.jobs[jobID]
	c.mu.Unlock()
	if !ok {
		return domain.JobSnapshot{}, fmt.Errorf("unknown job %q", jobID)
	}
	return j.snapshot(c.clock.Now(), c.workers), nil
}

// ListFailures returns dead-letter records for one job, or all of them
// when jobID is empty.
func (c *Coordinator) ListFailures(jobID string) []domain.DeadLetterRecord {
	return c.deadLetters.List(jobID)
}

// RetryFailure removes a dead-lettered address and re-injects it as a
// fresh high-priority single-address job.
func (c *Coordinator) RetryFailure(entityID string) (string, error) {
	rec, ok := c.deadLetters.Take(entityID)
	if !ok {
		return "", fmt.Errorf("no dead-letter record for entity %q", entityID)
	}
	return c.Submit([]domain.Address{rec.Address}, domain.PriorityHigh, "manual-retry")
}

func (c *Coordinator) worker(ctx context.Context) {
	for {
		item, ok := c.queue.pop()
		if !ok {
			return
		}
		c.process(ctx, item)
	}
}

// process resolves one unique hash to a terminal outcome: cache hit,
// provider resolution, or dead letter.
func (c *Coordinator) process(ctx context.Context, item *workItem) {
	c.metrics.WorkersBusy.Inc()
	defer c.metrics.WorkersBusy.Dec()

	j := item.job
	j.markInProgress()
	start := c.clock.Now()

	// Past the job deadline: dead-letter without further provider attempts.
	if start.After(j.deadline) {
		u := c.deadLetterUnit(j, item.addr, item.entityIDs, nil, "job deadline exceeded")
		u.deadlineExceeded = true
		u.duration = c.clock.Since(start)
		c.finishUnit(j, u)
		return
	}

	if result, ok := c.cacheGet(ctx, item.addr.Hash); ok {
		u := unitResult{cacheHit: true, lowAccuracy: result.LowAccuracy}
		u.outcomes = c.resolvedOutcomes(ctx, item, result, true)
		u.duration = c.clock.Since(start)
		c.finishUnit(j, u)
		return
	}

	rctx, cancel := context.WithTimeout(ctx, j.deadline.Sub(start))
	result, attempts, err := c.resolver.Resolve(rctx, item.addr, j.policy)
	cancel()

	if err != nil {
		lastErr := err.Error()
		if n := len(attempts); n > 0 && attempts[n-1].Error != "" {
			lastErr = attempts[n-1].Error
		}
		u := c.deadLetterUnit(j, item.addr, item.entityIDs, attempts, lastErr)
		u.attempts = attempts
		u.duration = c.clock.Since(start)
		c.finishUnit(j, u)
		return
	}

	u := unitResult{attempts: attempts, lowAccuracy: result.LowAccuracy}
	u.outcomes = c.resolvedOutcomes(ctx, item, result, false)
	u.duration = c.clock.Since(start)
	c.finishUnit(j, u)
}

// resolvedOutcomes fans one result back out to every input address that
// collapsed onto the hash, writing each to the store-of-record sink.
func (c *Coordinator) resolvedOutcomes(ctx context.Context, item *workItem, result domain.GeocodeResult, cacheHit bool) []domain.AddressOutcome {
	outcomes := make([]domain.AddressOutcome, 0, len(item.entityIDs))
	for _, entityID := range item.entityIDs {
		outcomes = append(outcomes, domain.AddressOutcome{
			EntityID: entityID,
			Hash:     item.addr.Hash,
			Result:   result,
			CacheHit: cacheHit,
		})
		if c.sink != nil {
			if err := c.sink.WriteResult(ctx, entityID, result); err != nil {
				c.logger.Warn("sink write failed", "entity_id", entityID, "error", err)
			}
		}
	}
	return outcomes
}

// deadLetterUnit records a terminal failure for every input address
// behind the hash and builds the corresponding unit result. The caller
// folds it into the job via finishUnit or applyImmediate.
func (c *Coordinator) deadLetterUnit(j *job, addr domain.NormalizedAddress, entityIDs []string, attempts []domain.AttemptRecord, lastErr string) unitResult {
	now := c.clock.Now()
	u := unitResult{failed: true}

	for _, entityID := range entityIDs {
		u.outcomes = append(u.outcomes, domain.AddressOutcome{
			EntityID: entityID,
			Hash:     addr.Hash,
			Failed:   true,
			Error:    lastErr,
		})
		src := addr.Source
		src.EntityID = entityID
		c.deadLetters.Add(domain.DeadLetterRecord{
			Address:   src,
			Hash:      addr.Hash,
			JobID:     j.id,
			Attempts:  attempts,
			LastError: lastErr,
			QueuedAt:  now,
		})
	}
	return u
}

// applyImmediate folds a submission-time failure into the job without a
// pending unit to decrement.
func (c *Coordinator) applyImmediate(j *job, u unitResult) {
	j.mu.Lock()
	j.outcomes = append(j.outcomes, u.outcomes...)
	j.counters.Completed += len(u.outcomes)
	j.counters.Failed += len(u.outcomes)
	j.counters.NonGeocodable += len(u.outcomes)
	var terminal domain.JobStatus
	if j.pendingUnique == 0 && j.status != domain.JobCompleted && j.status != domain.JobPartiallyFailed {
		terminal = j.finalizeLocked(c.clock.Now())
	}
	j.mu.Unlock()

	c.metrics.AddressesProcessed.Add(float64(len(u.outcomes)))
	c.metrics.DeadLetters.Add(float64(len(u.outcomes)))
	if terminal != "" {
		c.recordFinished(j, terminal)
	}
}

// finishUnit applies a worker's unit result and emits terminal metrics
// when the job just finished.
func (c *Coordinator) finishUnit(j *job, u unitResult) {
	terminal := j.applyUnit(u, c.clock.Now())

	c.metrics.AddressesProcessed.Add(float64(len(u.outcomes)))
	if u.failed {
		c.metrics.DeadLetters.Add(float64(len(u.outcomes)))
	}
	if terminal != "" {
		c.recordFinished(j, terminal)
	}
}

func (c *Coordinator) recordFinished(j *job, status domain.JobStatus) {
	label := "completed"
	if status == domain.JobPartiallyFailed {
		label = "partially_failed"
	}
	c.metrics.JobsFinished.WithLabelValues(label).Inc()
	c.metrics.JobDuration.Observe(c.clock.Since(j.submittedAt).Seconds())
	c.logger.Info("job finished", "job_id", j.id, "status", status)
}

// cacheGet treats cache errors as misses: an unavailable backing store
// degrades to always-miss, never fails the resolution.
func (c *Coordinator) cacheGet(ctx context.Context, hash string) (domain.GeocodeResult, bool) {
	result, ok, err := c.cache.Get(ctx, hash)
	if err != nil {
		c.logger.Warn("cache get failed, treating as miss", "hash", hash, "error", err)
		c.metrics.CacheLookups.WithLabelValues("error").Inc()
		return domain.GeocodeResult{}, false
	}
	if !ok {
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
		return domain.GeocodeResult{}, false
	}
	c.metrics.CacheLookups.WithLabelValues("hit").Inc()
	return result, true
}
