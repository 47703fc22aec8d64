package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/lingostream/internal/cache"
	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// finalizeTimeout bounds settlement, refund and persistence work that runs
// after the caller may have gone away.
const finalizeTimeout = 15 * time.Second

// ExplainerConfig holds the per-deployment knobs of an Explainer.
type ExplainerConfig struct {
	Model          string
	TargetLanguage string
	StreamTimeout  time.Duration
	Logger         *slog.Logger
}

// Explainer runs one metered explanation request end to end.
type Explainer struct {
	segments SegmentStore
	cache    cache.Cache
	ledger   *ledger.Ledger
	provider stream.Provider
	usage    UsageStore
	cfg      ExplainerConfig
	logger   *slog.Logger
}

// NewExplainer wires an Explainer. usage may be nil.
func NewExplainer(segments SegmentStore, c cache.Cache, l *ledger.Ledger, p stream.Provider, usage UsageStore, cfg ExplainerConfig) *Explainer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 90 * time.Second
	}
	return &Explainer{
		segments: segments,
		cache:    c,
		ledger:   l,
		provider: p,
		usage:    usage,
		cfg:      cfg,
		logger:   logger,
	}
}

// ExplainOptions tune a single request.
type ExplainOptions struct {
	ForceRegenerate bool   `json:"force_regenerate,omitempty"`
	TargetLanguage  string `json:"target_language,omitempty"`
}

// Result is the outcome of a successful request.
type Result struct {
	SegmentID string                    `json:"segment_id"`
	Record    *models.ExplanationRecord `json:"record"`
	Cached    bool                      `json:"cached"`
	Entry     *models.LedgerEntry       `json:"entry,omitempty"`
	Charged   int64                     `json:"charged"`
	// Owed is the debt left when settlement overdrew the account, or the
	// whole charge when SettlePending is set.
	Owed int64 `json:"owed,omitempty"`
	// SettlePending means the result was delivered but settlement failed.
	// The entry stays held with its usage and the reconciler settles it.
	SettlePending bool         `json:"settle_pending,omitempty"`
	Usage         models.Usage `json:"usage"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// Model returns the model name requests are billed against.
func (e *Explainer) Model() string {
	return e.cfg.Model
}

// Segments exposes the segment store.
func (e *Explainer) Segments() SegmentStore {
	return e.segments
}

// Cached returns an explanation that can be served without a model call:
// the one already attached to the segment, or a cache hit for its text.
func (e *Explainer) Cached(ctx context.Context, seg models.Segment) (*models.ExplanationRecord, bool) {
	if seg.Explanation != nil {
		return seg.Explanation.Clone(), true
	}
	rec, ok, err := e.cache.Lookup(ctx, seg.ID, seg.Fingerprint())
	if err != nil {
		e.logger.Warn("cache lookup failed", "segment_id", seg.ID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ExplainSegment explains one segment, streaming updates to onUpdate.
// A cache hit returns without touching the ledger. Otherwise the request is
// pre-authorized, streamed, then settled on completion or refunded on any
// failure, including caller cancellation.
func (e *Explainer) ExplainSegment(ctx context.Context, userID, segmentID string, opts ExplainOptions, onUpdate func(stream.Update)) (*Result, error) {
	seg, err := e.segments.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	fingerprint := seg.Fingerprint()

	if !opts.ForceRegenerate {
		rec, ok, err := e.cache.Lookup(ctx, seg.ID, fingerprint)
		if err != nil {
			e.logger.Warn("cache lookup failed", "segment_id", seg.ID, "error", err)
		}
		if ok {
			e.logger.Debug("explanation served from cache", "segment_id", seg.ID)
			if onUpdate != nil {
				onUpdate(stream.Update{Kind: stream.UpdateFinal, Record: rec.Clone()})
			}
			return &Result{SegmentID: seg.ID, Record: rec.Clone(), Cached: true}, nil
		}
	}

	entry, err := e.ledger.Preauthorize(ctx, userID, seg.ID, e.cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("preauthorize: %w", err)
	}

	lang := opts.TargetLanguage
	if lang == "" {
		lang = e.cfg.TargetLanguage
	}
	req := stream.Request{
		SegmentID:       seg.ID,
		Text:            seg.Text,
		TargetLanguage:  lang,
		ForceRegenerate: opts.ForceRegenerate,
		Model:           e.cfg.Model,
	}

	start := time.Now()
	streamCtx, cancel := context.WithTimeout(ctx, e.cfg.StreamTimeout)
	res, err := stream.NewConsumer().Run(streamCtx, e.provider, req, onUpdate)
	cancel()

	// Finalization must survive the caller's cancellation.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer fcancel()

	if err != nil {
		e.refund(fctx, entry, err)
		return nil, err
	}

	out := &Result{
		SegmentID: seg.ID,
		Record:    res.Record,
		Entry:     &entry,
		Usage:     res.Usage,
		Warnings:  res.Warnings,
	}

	settled, serr := e.ledger.Settle(fctx, entry, res.Usage)
	if serr != nil {
		out.SettlePending = true
		out.Owed = e.ledger.Cost(e.cfg.Model, res.Usage)
		e.logger.Error("settlement failed, left for reconciliation",
			"entry_id", entry.ID, "user_id", userID, "segment_id", seg.ID,
			"held", entry.Held, "owed", out.Owed, "error", serr)
	} else {
		out.Entry = &settled.Entry
		out.Charged = settled.Actual
		out.Owed = settled.Owed
	}

	if err := e.cache.Store(fctx, seg.ID, fingerprint, *res.Record); err != nil {
		e.logger.Warn("cache store failed", "segment_id", seg.ID, "error", err)
	}
	if err := e.segments.SaveExplanation(fctx, seg.ID, *res.Record); err != nil {
		e.logger.Warn("save explanation failed", "segment_id", seg.ID, "error", err)
	}
	if e.usage != nil {
		row := models.TokenUsage{
			Operation:    "explain",
			Model:        e.cfg.Model,
			UserID:       userID,
			SegmentID:    seg.ID,
			InputTokens:  res.Usage.InputTokens,
			OutputTokens: res.Usage.OutputTokens,
			TotalTokens:  res.Usage.TotalTokens(),
			CostPoints:   out.Charged + out.owedPending(),
		}
		if err := e.usage.RecordTokenUsage(fctx, row); err != nil {
			e.logger.Warn("record token usage failed", "segment_id", seg.ID, "error", err)
		}
	}

	e.logger.Info("segment explained",
		"segment_id", seg.ID,
		"user_id", userID,
		"charged", out.Charged,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func (r *Result) owedPending() int64 {
	if r.SettlePending {
		return r.Owed
	}
	return 0
}

func (e *Explainer) refund(ctx context.Context, entry models.LedgerEntry, cause error) {
	reason := Classify(cause)
	if reason.Code == CodeCancelled {
		e.logger.Info("explanation cancelled", "segment_id", entry.SegmentID, "entry_id", entry.ID)
	} else {
		e.logger.Warn("explanation failed",
			"segment_id", entry.SegmentID, "entry_id", entry.ID,
			"code", reason.Code, "error", cause)
	}
	if _, err := e.ledger.Refund(ctx, entry); err != nil {
		e.logger.Error("refund failed", "entry_id", entry.ID, "user_id", entry.UserID, "error", err)
	}
}
