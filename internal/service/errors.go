// Package service orchestrates metered explanation requests and batches.
package service

import (
	"context"
	"errors"

	"github.com/raphaelgruber/lingostream/internal/ledger"
	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/provider"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

// Failure codes reported to callers.
const (
	CodeInsufficientBalance = "insufficient_balance"
	CodeProviderError       = "provider_error"
	CodeTimeout             = "timeout"
	CodeCancelled           = "cancelled"
	CodeNotFound            = "not_found"
	CodeInternal            = "internal"
)

var ErrJobNotFound = errors.New("batch job not found")

// Reason is the caller-facing classification of a failed request.
type Reason struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Classify maps an orchestration error onto the failure taxonomy.
func Classify(err error) Reason {
	if err == nil {
		return Reason{}
	}
	r := Reason{Message: err.Error()}

	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		r.Code = CodeInsufficientBalance
	case errors.Is(err, stream.ErrCancelled), errors.Is(err, context.Canceled):
		r.Code = CodeCancelled
		r.Retryable = true
	case errors.Is(err, stream.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		r.Code = CodeTimeout
		r.Retryable = true
	case errors.Is(err, stream.ErrProvider):
		r.Code = CodeProviderError
		r.Retryable = !provider.IsFatal(err)
	case errors.Is(err, models.ErrSegmentNotFound):
		r.Code = CodeNotFound
	default:
		r.Code = CodeInternal
	}
	return r
}

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return Classify(err).Code == CodeCancelled
}
