package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// JobStatus represents the state of a batch job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Outcome is the per-segment result of a batch.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// BatchEventType names the events a batch job emits.
type BatchEventType string

const (
	EventProgress       BatchEventType = "progress"
	EventSegmentUpdated BatchEventType = "segment_updated"
	EventDone           BatchEventType = "done"
)

// BatchEvent is one notification delivered to job subscribers.
type BatchEvent struct {
	Type      BatchEventType            `json:"type"`
	JobID     string                    `json:"job_id"`
	Completed int                       `json:"completed,omitempty"`
	Total     int                       `json:"total,omitempty"`
	SegmentID string                    `json:"segment_id,omitempty"`
	Outcome   Outcome                   `json:"outcome,omitempty"`
	Cached    bool                      `json:"cached,omitempty"`
	Reason    *Reason                   `json:"reason,omitempty"`
	Record    *models.ExplanationRecord `json:"record,omitempty"`
	Success   int                       `json:"success,omitempty"`
	Failed    int                       `json:"failed,omitempty"`
	Cancelled int                       `json:"cancelled,omitempty"`
}

// SegmentResult tracks one segment within a batch.
type SegmentResult struct {
	SegmentID string  `json:"segment_id"`
	Outcome   Outcome `json:"outcome"`
	Cached    bool    `json:"cached,omitempty"`
	Charged   int64   `json:"charged,omitempty"`
	Reason    *Reason `json:"reason,omitempty"`
}

// BatchSnapshot is a point-in-time copy of a job, safe to serialize.
type BatchSnapshot struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Status      JobStatus       `json:"status"`
	Concurrency int             `json:"concurrency"`
	Total       int             `json:"total"`
	Completed   int             `json:"completed"`
	Success     int             `json:"success"`
	Failed      int             `json:"failed"`
	Cancelled   int             `json:"cancelled"`
	Segments    []SegmentResult `json:"segments"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// subscriberBuffer is the channel depth given to each subscriber. The last
// slot is held back for the done event; progress events that do not fit in
// the rest are dropped for that subscriber.
const subscriberBuffer = 256

// BatchJob is a running or finished batch. All fields are guarded by mu.
type BatchJob struct {
	ID          string
	UserID      string
	Concurrency int
	StartedAt   time.Time

	mu          sync.RWMutex
	status      JobStatus
	segments    []SegmentResult
	index       map[string]int
	completed   int
	success     int
	failed      int
	cancelled   int
	completedAt *time.Time
	cancel      context.CancelFunc
	subs        map[int]chan BatchEvent
	nextSub     int
	done        chan struct{}
}

func newBatchJob(userID string, segmentIDs []string, concurrency int) *BatchJob {
	job := &BatchJob{
		ID:          uuid.New().String()[:8],
		UserID:      userID,
		Concurrency: concurrency,
		StartedAt:   time.Now().UTC(),
		status:      JobStatusPending,
		index:       make(map[string]int, len(segmentIDs)),
		subs:        make(map[int]chan BatchEvent),
		done:        make(chan struct{}),
	}
	for _, id := range segmentIDs {
		if _, dup := job.index[id]; dup {
			continue
		}
		job.index[id] = len(job.segments)
		job.segments = append(job.segments, SegmentResult{SegmentID: id, Outcome: OutcomePending})
	}
	return job
}

// SegmentIDs returns the de-duplicated segment ids in submission order.
func (j *BatchJob) SegmentIDs() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	ids := make([]string, len(j.segments))
	for i, s := range j.segments {
		ids[i] = s.SegmentID
	}
	return ids
}

// Snapshot returns a thread-safe copy of the job state.
func (j *BatchJob) Snapshot() BatchSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := BatchSnapshot{
		ID:          j.ID,
		UserID:      j.UserID,
		Status:      j.status,
		Concurrency: j.Concurrency,
		Total:       len(j.segments),
		Completed:   j.completed,
		Success:     j.success,
		Failed:      j.failed,
		Cancelled:   j.cancelled,
		Segments:    slices.Clone(j.segments),
		StartedAt:   j.StartedAt,
	}
	if j.completedAt != nil {
		t := *j.completedAt
		snap.CompletedAt = &t
	}
	return snap
}

// Done is closed once the job reaches a terminal status.
func (j *BatchJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends.
func (j *BatchJob) Wait(ctx context.Context) (BatchSnapshot, error) {
	select {
	case <-j.done:
		return j.Snapshot(), nil
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

// Subscribe returns a channel of job events and a function to stop
// receiving them. A subscriber that falls more than subscriberBuffer-1
// events behind misses progress events, but the done event is always
// delivered before the channel is closed.
func (j *BatchJob) Subscribe() (<-chan BatchEvent, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan BatchEvent, subscriberBuffer)
	if j.terminal() {
		ch <- j.doneEventLocked()
		close(ch)
		return ch, func() {}
	}

	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(c)
		}
	}
}

func (j *BatchJob) terminal() bool {
	return j.status == JobStatusCompleted || j.status == JobStatusCancelled
}

func (j *BatchJob) doneEventLocked() BatchEvent {
	return BatchEvent{
		Type:      EventDone,
		JobID:     j.ID,
		Completed: j.completed,
		Total:     len(j.segments),
		Success:   j.success,
		Failed:    j.failed,
		Cancelled: j.cancelled,
	}
}

// publishLocked delivers ev without blocking the caller.
func (j *BatchJob) publishLocked(ev BatchEvent) {
	for id, ch := range j.subs {
		if len(ch) >= cap(ch)-1 {
			slog.Debug("dropping batch event for slow subscriber", "job_id", j.ID, "subscriber", id, "type", ev.Type)
			continue
		}
		select {
		case ch <- ev:
		default:
			slog.Debug("dropping batch event for slow subscriber", "job_id", j.ID, "subscriber", id, "type", ev.Type)
		}
	}
}

func (j *BatchJob) start(cancel context.CancelFunc) {
	j.mu.Lock()
	j.cancel = cancel
	if j.status == JobStatusPending {
		j.status = JobStatusRunning
	}
	j.mu.Unlock()
}

// record sets a segment's terminal outcome once and emits the matching
// segment_updated and progress events.
func (j *BatchJob) record(res SegmentResult, rec *models.ExplanationRecord) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	i, ok := j.index[res.SegmentID]
	if !ok || j.segments[i].Outcome != OutcomePending {
		return false
	}
	j.segments[i] = res
	j.completed++
	switch res.Outcome {
	case OutcomeSuccess:
		j.success++
	case OutcomeFailed:
		j.failed++
	case OutcomeCancelled:
		j.cancelled++
	}

	j.publishLocked(BatchEvent{
		Type:      EventSegmentUpdated,
		JobID:     j.ID,
		SegmentID: res.SegmentID,
		Outcome:   res.Outcome,
		Cached:    res.Cached,
		Reason:    res.Reason,
		Record:    rec,
	})
	j.publishLocked(BatchEvent{
		Type:      EventProgress,
		JobID:     j.ID,
		Completed: j.completed,
		Total:     len(j.segments),
	})
	return true
}

// pending returns the ids still without an outcome.
func (j *BatchJob) pending() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var ids []string
	for _, s := range j.segments {
		if s.Outcome == OutcomePending {
			ids = append(ids, s.SegmentID)
		}
	}
	return ids
}

func (j *BatchJob) finish(status JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal() {
		return
	}
	now := time.Now().UTC()
	j.status = status
	j.completedAt = &now

	done := j.doneEventLocked()
	for id, ch := range j.subs {
		select {
		case ch <- done:
		default:
		}
		close(ch)
		delete(j.subs, id)
	}
	if j.cancel != nil {
		j.cancel()
	}
	close(j.done)
}

// requestCancel cancels the job context. It reports false once the job
// has already finished.
func (j *BatchJob) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal() {
		return false
	}
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

// JobManager tracks batch jobs in memory.
type JobManager struct {
	jobs      map[string]*BatchJob
	mu        sync.RWMutex
	retention time.Duration
	now       func() time.Time
}

// NewJobManager creates a job manager that forgets finished jobs after retention.
func NewJobManager(retention time.Duration) *JobManager {
	if retention <= 0 {
		retention = time.Hour
	}
	return &JobManager{
		jobs:      make(map[string]*BatchJob),
		retention: retention,
		now:       time.Now,
	}
}

// CreateJob registers a new pending job.
func (m *JobManager) CreateJob(userID string, segmentIDs []string, concurrency int) *BatchJob {
	job := newBatchJob(userID, segmentIDs, concurrency)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	slog.Info("batch job created", "job_id", job.ID, "user_id", userID, "segments", len(job.segments), "concurrency", concurrency)
	return job
}

// GetJob retrieves a job by ID, or nil.
func (m *JobManager) GetJob(id string) *BatchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*BatchJob {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*BatchJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *BatchJob) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Cancel stops a job. Cancelling a finished job is a no-op.
func (m *JobManager) Cancel(id string) error {
	job := m.GetJob(id)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.requestCancel() {
		slog.Info("batch job cancel requested", "job_id", id)
	}
	return nil
}

// Prune drops finished jobs older than the retention window.
func (m *JobManager) Prune() int {
	cutoff := m.now().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, job := range m.jobs {
		snap := job.Snapshot()
		if snap.CompletedAt != nil && snap.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("pruned batch jobs", "count", n)
	}
	return n
}

// RunPruner prunes on every tick until ctx is cancelled.
func (m *JobManager) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}
