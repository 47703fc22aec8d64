// Package stream folds a model's ordered event stream into an explanation record.
package stream

import (
	"context"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// EventType names the kinds of events a provider emits.
type EventType string

const (
	EventStart         EventType = "start"
	EventChunk         EventType = "chunk"
	EventPartialUpdate EventType = "partial_update"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
	EventWarning       EventType = "warning"
)

// Terminal reports whether the event type ends a stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one typed payload of a provider stream. On the wire it is a JSON
// object, framed as an SSE data line or a WebSocket message.
type Event struct {
	Type    EventType                 `json:"type"`
	Content string                    `json:"content,omitempty"`
	Fields  *models.PartialRecord     `json:"fields,omitempty"`
	Record  *models.ExplanationRecord `json:"record,omitempty"`
	Usage   *models.Usage             `json:"usage,omitempty"`
	Message string                    `json:"message,omitempty"`
}

// Request is a single segment's call to the model provider.
type Request struct {
	SegmentID       string
	Text            string
	TargetLanguage  string
	ForceRegenerate bool
	Model           string
}

// Provider opens one stream per request and delivers its events in order
// through emit. If emit returns an error the provider must stop and return it.
type Provider interface {
	Stream(ctx context.Context, req Request, emit func(Event) error) error
	Name() string
}

// UpdateKind classifies what a consumer reports to its caller.
type UpdateKind string

const (
	UpdateNone    UpdateKind = ""
	UpdatePartial UpdateKind = "partial"
	UpdateWarning UpdateKind = "warning"
	UpdateFinal   UpdateKind = "final"
	UpdateError   UpdateKind = "error"
)

// Update is what the consumer surfaces after applying an event.
// Record is a snapshot and safe to retain.
type Update struct {
	Kind    UpdateKind                `json:"kind"`
	Record  *models.ExplanationRecord `json:"record,omitempty"`
	Usage   *models.Usage             `json:"usage,omitempty"`
	Message string                    `json:"message,omitempty"`
}
