package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// PutSegmentsRequest is the body of PUT /v1/segments.
type PutSegmentsRequest struct {
	Segments []models.Segment `json:"segments"`
}

// UserHeader identifies the calling user. Bodies may carry user_id for
// callers that cannot set headers; the header wins.
const UserHeader = "X-User-ID"

// requestUser returns the header's user or else fallback.
func requestUser(r *http.Request, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(UserHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// ExplainRequest is the body of POST /v1/explain/{id}.
type ExplainRequest struct {
	UserID          string `json:"user_id,omitempty"`
	ForceRegenerate bool   `json:"force_regenerate,omitempty"`
	TargetLanguage  string `json:"target_language,omitempty"`
}

// BatchRequest is the body of POST /v1/batches. Either SegmentIDs or
// DocumentID selects the segments.
type BatchRequest struct {
	UserID          string   `json:"user_id,omitempty"`
	SegmentIDs      []string `json:"segment_ids,omitempty"`
	DocumentID      string   `json:"document_id,omitempty"`
	Concurrency     int      `json:"concurrency,omitempty"`
	ForceRegenerate bool     `json:"force_regenerate,omitempty"`
	TargetLanguage  string   `json:"target_language,omitempty"`
}

// CreditRequest is the body of POST /v1/accounts/{user}/credit.
type CreditRequest struct {
	Amount int64 `json:"amount"`
}

// BalanceResponse reports an account balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

func (s *Server) handlePutSegments(w http.ResponseWriter, r *http.Request) {
	var req PutSegmentsRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if len(req.Segments) == 0 {
		badRequest(w, "no segments given")
		return
	}
	for i, seg := range req.Segments {
		if strings.TrimSpace(seg.ID) == "" || strings.TrimSpace(seg.Text) == "" {
			badRequest(w, "segment %d: id and text are required", i)
			return
		}
	}
	if err := s.deps.Explainer.Segments().PutSegments(r.Context(), req.Segments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(req.Segments)})
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.deps.Explainer.Segments().GetSegment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := s.deps.Explainer.Segments().ListSegments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

// handleExplain streams updates as SSE. Failures before the first event are
// answered with a JSON error status instead.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req ExplainRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	req.UserID = requestUser(r, req.UserID)
	if req.UserID == "" {
		badRequest(w, "%s header is required", UserHeader)
		return
	}

	sse := newSSEWriter(w)
	onUpdate := func(u stream.Update) {
		if err := sse.Send(string(u.Kind), u); err != nil {
			s.logger.Debug("sse write failed", "segment_id", r.PathValue("id"), "error", err)
		}
	}

	res, err := s.deps.Explainer.ExplainSegment(r.Context(), req.UserID, r.PathValue("id"), service.ExplainOptions{
		ForceRegenerate: req.ForceRegenerate,
		TargetLanguage:  req.TargetLanguage,
	}, onUpdate)
	if err != nil {
		if !sse.Started() {
			writeError(w, err)
			return
		}
		reason := service.Classify(err)
		_ = sse.Send(string(stream.UpdateError), ExplainEvent{Kind: stream.UpdateError, Reason: &reason})
		return
	}
	_ = sse.Send("result", ExplainEvent{Kind: "result", Result: res})
}

// ExplainEvent is a terminal message of an explanation stream: the result
// summary or the classified failure.
type ExplainEvent struct {
	Kind   stream.UpdateKind `json:"kind"`
	Result *service.Result   `json:"result,omitempty"`
	Reason *service.Reason   `json:"reason,omitempty"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	req.UserID = requestUser(r, req.UserID)
	if req.UserID == "" {
		badRequest(w, "%s header is required", UserHeader)
		return
	}
	if maxK := s.deps.Scheduler.MaxConcurrency(); req.Concurrency < 0 || req.Concurrency > maxK {
		badRequest(w, "concurrency must be between 0 and %d", maxK)
		return
	}

	ids := req.SegmentIDs
	if len(ids) == 0 && req.DocumentID != "" {
		segs, err := s.deps.Explainer.Segments().ListSegments(r.Context(), req.DocumentID)
		if err != nil {
			writeError(w, err)
			return
		}
		for _, seg := range segs {
			ids = append(ids, seg.ID)
		}
	}
	if len(ids) == 0 {
		badRequest(w, "no segments selected")
		return
	}

	job, err := s.deps.Scheduler.Start(r.Context(), req.UserID, ids, service.BatchOptions{
		Concurrency:     req.Concurrency,
		ForceRegenerate: req.ForceRegenerate,
		TargetLanguage:  req.TargetLanguage,
	})
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Scheduler.Jobs().ListJobs()
	out := make([]service.BatchSnapshot, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) (*service.BatchJob, bool) {
	job := s.deps.Scheduler.Jobs().GetJob(r.PathValue("id"))
	if job == nil {
		writeError(w, service.ErrJobNotFound)
		return nil, false
	}
	return job, true
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if job, ok := s.batch(w, r); ok {
		writeJSON(w, http.StatusOK, job.Snapshot())
	}
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	job, ok := s.batch(w, r)
	if !ok {
		return
	}
	if err := s.deps.Scheduler.Cancel(job.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// handleBatchEvents streams job events until done or the client leaves.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.batch(w, r)
	if !ok {
		return
	}
	events, unsubscribe := job.Subscribe()
	defer unsubscribe()

	sse := newSSEWriter(w)
	// Opening progress event so late subscribers see the current state.
	snap := job.Snapshot()
	_ = sse.Send(string(service.EventProgress), service.BatchEvent{
		Type: service.EventProgress, JobID: job.ID, Completed: snap.Completed, Total: snap.Total,
	})

	sawDone := false
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				if !sawDone {
					snap := job.Snapshot()
					_ = sse.Send(string(service.EventDone), service.BatchEvent{
						Type: service.EventDone, JobID: job.ID,
						Completed: snap.Completed, Total: snap.Total,
						Success: snap.Success, Failed: snap.Failed, Cancelled: snap.Cancelled,
					})
				}
				return
			}
			sawDone = sawDone || ev.Type == service.EventDone
			if err := sse.Send(string(ev.Type), ev); err != nil {
				s.logger.Debug("batch event write failed", "job_id", job.ID, "error", err)
				return
			}
		}
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	bal, err := s.deps.Ledger.Balance(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: user, Balance: bal})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "%v", err)
		return
	}
	user := r.PathValue("user")
	bal, err := s.deps.Ledger.Credit(r.Context(), user, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: user, Balance: bal})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit %q", v)
			return
		}
		limit = n
	}
	entries, err := s.deps.Ledger.Entries(r.Context(), r.PathValue("user"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Ledger.Reconcile(r.Context(), s.deps.HoldTimeout)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		writeError(w, errors.New("usage tracking is not configured"))
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	sum, err := s.deps.Usage.UsageSummary(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

// parseSince accepts an RFC 3339 timestamp or a look-back duration such as
// "24h". Empty means the last 24 hours.
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("since must be a duration like 24h or an RFC 3339 time")
	}
	return t, nil
}
