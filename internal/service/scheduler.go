package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/lingostream/internal/models"
)

const (
	// DefaultConcurrency is the worker count used when a batch names none.
	DefaultConcurrency = 3
	// DefaultMaxConcurrency caps the worker count a batch may ask for.
	DefaultMaxConcurrency = 16
)

// BatchOptions tune a batch run.
type BatchOptions struct {
	Concurrency     int    `json:"concurrency,omitempty"`
	ForceRegenerate bool   `json:"force_regenerate,omitempty"`
	TargetLanguage  string `json:"target_language,omitempty"`
}

// Scheduler explains many segments with a bounded pool of workers.
type Scheduler struct {
	explainer      *Explainer
	jobs           *JobManager
	concurrency    int
	maxConcurrency int
	logger         *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxConcurrency sets the ceiling on a batch's worker count.
func WithMaxConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// NewScheduler creates a scheduler. concurrency is the default worker count;
// it never exceeds the maximum.
func NewScheduler(explainer *Explainer, jobs *JobManager, concurrency int, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		explainer:      explainer,
		jobs:           jobs,
		concurrency:    concurrency,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	s.concurrency = min(s.concurrency, s.maxConcurrency)
	return s
}

// MaxConcurrency is the largest worker count a batch runs with.
func (s *Scheduler) MaxConcurrency() int {
	return s.maxConcurrency
}

// Jobs returns the job manager.
func (s *Scheduler) Jobs() *JobManager {
	return s.jobs
}

// Start launches a batch in the background and returns at once. The job
// outlives ctx's cancellation; stop it with Cancel.
func (s *Scheduler) Start(ctx context.Context, userID string, segmentIDs []string, opts BatchOptions) (*BatchJob, error) {
	job, jobCtx, err := s.prepare(context.WithoutCancel(ctx), userID, segmentIDs, opts)
	if err != nil {
		return nil, err
	}
	go s.run(jobCtx, job, opts)
	return job, nil
}

// ExplainBatch runs a batch to completion. Cancelling ctx cancels the job.
func (s *Scheduler) ExplainBatch(ctx context.Context, userID string, segmentIDs []string, opts BatchOptions) (BatchSnapshot, error) {
	job, jobCtx, err := s.prepare(ctx, userID, segmentIDs, opts)
	if err != nil {
		return BatchSnapshot{}, err
	}
	s.run(jobCtx, job, opts)
	return job.Snapshot(), nil
}

// Cancel stops a job: queued segments are dropped and in-flight ones are
// refunded. It is idempotent.
func (s *Scheduler) Cancel(jobID string) error {
	return s.jobs.Cancel(jobID)
}

func (s *Scheduler) prepare(ctx context.Context, userID string, segmentIDs []string, opts BatchOptions) (*BatchJob, context.Context, error) {
	if userID == "" {
		return nil, nil, errors.New("batch: user id is required")
	}
	if len(segmentIDs) == 0 {
		return nil, nil, errors.New("batch: no segments given")
	}
	k := opts.Concurrency
	if k <= 0 {
		k = s.concurrency
	}
	if k > s.maxConcurrency {
		s.logger.Warn("batch concurrency capped", "requested", k, "max", s.maxConcurrency)
		k = s.maxConcurrency
	}
	job := s.jobs.CreateJob(userID, segmentIDs, k)
	jobCtx, cancel := context.WithCancel(ctx)
	job.start(cancel)
	return job, jobCtx, nil
}

func (s *Scheduler) run(ctx context.Context, job *BatchJob, opts BatchOptions) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("batch job panicked", "job_id", job.ID, "panic", r)
			s.cancelRemaining(job)
			job.finish(JobStatusCompleted)
		}
	}()

	start := time.Now()
	queued := s.resolve(ctx, job, opts)

	if k := min(job.Concurrency, len(queued)); k > 0 {
		// Worker ids only label log lines; the group's limit bounds the streams.
		workers := make(chan int, k)
		for w := range k {
			workers <- w
		}

		var g errgroup.Group
		g.SetLimit(k)
		for _, seg := range queued {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				w := <-workers
				defer func() { workers <- w }()
				if ctx.Err() == nil {
					s.explainOne(ctx, job, seg, opts, w)
				}
				return nil
			})
		}
		// Failures are recorded per segment, so the group never errors.
		_ = g.Wait()
	}

	s.cancelRemaining(job)

	status := JobStatusCompleted
	if ctx.Err() != nil {
		status = JobStatusCancelled
	}
	job.finish(status)

	snap := job.Snapshot()
	s.logger.Info("batch job finished",
		"job_id", job.ID,
		"status", snap.Status,
		"success", snap.Success,
		"failed", snap.Failed,
		"cancelled", snap.Cancelled,
		"duration_ms", time.Since(start).Milliseconds())
}

// resolve settles segments that need no model call and returns the rest.
func (s *Scheduler) resolve(ctx context.Context, job *BatchJob, opts BatchOptions) []models.Segment {
	var queued []models.Segment
	for _, id := range job.SegmentIDs() {
		if ctx.Err() != nil {
			break
		}
		seg, err := s.explainer.Segments().GetSegment(ctx, id)
		if err != nil {
			reason := Classify(err)
			job.record(SegmentResult{SegmentID: id, Outcome: outcomeFor(reason), Reason: &reason}, nil)
			continue
		}
		if !opts.ForceRegenerate {
			if rec, ok := s.explainer.Cached(ctx, seg); ok {
				job.record(SegmentResult{SegmentID: id, Outcome: OutcomeSuccess, Cached: true}, rec)
				continue
			}
		}
		queued = append(queued, seg)
	}
	return queued
}

func (s *Scheduler) explainOne(ctx context.Context, job *BatchJob, seg models.Segment, opts BatchOptions, worker int) {
	s.logger.Debug("explaining segment", "job_id", job.ID, "worker", worker, "segment_id", seg.ID)

	res, err := s.explainer.ExplainSegment(ctx, job.UserID, seg.ID, ExplainOptions{
		ForceRegenerate: opts.ForceRegenerate,
		TargetLanguage:  opts.TargetLanguage,
	}, nil)
	if err != nil {
		reason := Classify(err)
		job.record(SegmentResult{SegmentID: seg.ID, Outcome: outcomeFor(reason), Reason: &reason}, nil)
		return
	}
	job.record(SegmentResult{
		SegmentID: seg.ID,
		Outcome:   OutcomeSuccess,
		Cached:    res.Cached,
		Charged:   res.Charged,
	}, res.Record)

	snap := job.Snapshot()
	s.logger.Info("batch progress",
		"job_id", job.ID,
		"worker", worker,
		"progress", fmt.Sprintf("%d/%d", snap.Completed, snap.Total))
}

// cancelRemaining marks never-started segments cancelled.
func (s *Scheduler) cancelRemaining(job *BatchJob) {
	for _, id := range job.pending() {
		reason := Reason{Code: CodeCancelled, Message: "batch cancelled before start", Retryable: true}
		job.record(SegmentResult{SegmentID: id, Outcome: OutcomeCancelled, Reason: &reason}, nil)
	}
}

func outcomeFor(r Reason) Outcome {
	if r.Code == CodeCancelled {
		return OutcomeCancelled
	}
	return OutcomeFailed
}
