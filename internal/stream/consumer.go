package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// State is the consumer's position in the stream lifecycle.
type State int

const (
	StateAwaitingStart State = iota
	StateStreaming
	StateSealed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting-start"
	case StateStreaming:
		return "streaming"
	case StateSealed:
		return "sealed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the sealed outcome of a successful stream.
type Result struct {
	Record   *models.ExplanationRecord
	Usage    models.Usage
	Warnings []string
}

// Consumer assembles one stream's events into an explanation record.
// It is a deterministic state machine: replaying the same events yields the
// same record. A Consumer is not safe for concurrent use.
type Consumer struct {
	state     State
	buf       strings.Builder
	record    models.ExplanationRecord
	confirmed fieldSet
	usage     models.Usage
	warnings  []string
	err       error
}

// NewConsumer returns a consumer awaiting the start event.
func NewConsumer() *Consumer {
	return &Consumer{}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return c.state
}

// Buffer returns the raw output accumulated from chunk events.
func (c *Consumer) Buffer() string {
	return c.buf.String()
}

// Err returns the failure that moved the consumer to the failed state.
func (c *Consumer) Err() error {
	return c.err
}

// Snapshot returns a copy of the record as currently assembled.
func (c *Consumer) Snapshot() *models.ExplanationRecord {
	return c.record.Clone()
}

// Result returns the sealed record, or the failure.
func (c *Consumer) Result() (*Result, error) {
	switch c.state {
	case StateSealed:
		return &Result{Record: c.record.Clone(), Usage: c.usage, Warnings: append([]string(nil), c.warnings...)}, nil
	case StateFailed:
		return nil, c.err
	default:
		return nil, fmt.Errorf("%w: stream not terminated (state %s)", ErrProvider, c.state)
	}
}

// Apply folds one event into the consumer. The returned update is what the
// caller should surface (UpdateNone when nothing changed). A non-nil error
// means the stream failed or had already terminated.
func (c *Consumer) Apply(ev Event) (Update, error) {
	if c.state == StateSealed || c.state == StateFailed {
		return Update{}, ErrStreamClosed
	}

	switch ev.Type {
	case EventStart:
		if c.state != StateAwaitingStart {
			return Update{}, nil
		}
		c.state = StateStreaming
		return Update{}, nil

	case EventWarning:
		c.warnings = append(c.warnings, ev.Message)
		return Update{Kind: UpdateWarning, Message: ev.Message}, nil

	case EventError:
		msg := ev.Message
		if msg == "" {
			msg = ev.Content
		}
		if msg == "" {
			msg = "unspecified provider error"
		}
		return c.fail(fmt.Errorf("%w: %s", ErrProvider, msg))
	}

	if c.state == StateAwaitingStart {
		return c.fail(fmt.Errorf("%w: %s event before start", ErrProvider, ev.Type))
	}

	switch ev.Type {
	case EventChunk:
		c.buf.WriteString(ev.Content)
		guess, ok := ParsePartial(c.buf.String())
		if !ok || !merge(&c.record, &c.confirmed, guess, provenanceGuess) {
			return Update{}, nil
		}
		return Update{Kind: UpdatePartial, Record: c.record.Clone()}, nil

	case EventPartialUpdate:
		if ev.Fields == nil || !merge(&c.record, &c.confirmed, *ev.Fields, provenanceConfirmed) {
			return Update{}, nil
		}
		return Update{Kind: UpdatePartial, Record: c.record.Clone()}, nil

	case EventComplete:
		rec, err := c.authoritative(ev)
		if err != nil {
			return c.fail(err)
		}
		c.record = *rec
		c.confirmed = allFields
		if ev.Usage != nil {
			c.usage = *ev.Usage
		}
		c.state = StateSealed
		usage := c.usage
		return Update{Kind: UpdateFinal, Record: c.record.Clone(), Usage: &usage}, nil

	default:
		return c.fail(fmt.Errorf("%w: unknown event type %q", ErrProvider, ev.Type))
	}
}

// authoritative picks the final record of a complete event: the structured
// record if present, else a parse of the full response or the chunk buffer.
func (c *Consumer) authoritative(ev Event) (*models.ExplanationRecord, error) {
	if ev.Record != nil {
		rec := ev.Record.Clone()
		rec.Normalize()
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		return rec, nil
	}
	text := ev.Content
	if text == "" {
		text = c.buf.String()
	}
	return ParseRecord(text)
}

func (c *Consumer) fail(err error) (Update, error) {
	c.state = StateFailed
	c.err = err
	return Update{Kind: UpdateError, Message: err.Error()}, err
}

// Run drives provider to a terminal event, applying each event as it
// arrives and reporting surfaced updates to onUpdate. Cancellation stops
// delivery at once and yields ErrCancelled; an expired deadline yields ErrTimeout.
func (c *Consumer) Run(ctx context.Context, p Provider, req Request, onUpdate func(Update)) (*Result, error) {
	emit := func(ev Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		upd, err := c.Apply(ev)
		if upd.Kind != UpdateNone && onUpdate != nil {
			onUpdate(upd)
		}
		return err
	}

	perr := p.Stream(ctx, req, emit)

	switch c.state {
	case StateSealed:
		return c.Result()
	case StateFailed:
		return nil, c.err
	}

	var err error
	switch {
	case ctx.Err() != nil:
		err = contextError(ctx.Err())
	case perr != nil:
		if errors.Is(perr, ErrProvider) {
			err = perr
		} else {
			err = fmt.Errorf("%w: %w", ErrProvider, perr)
		}
	default:
		err = fmt.Errorf("%w: stream ended without a terminal event", ErrProvider)
	}
	c.state = StateFailed
	c.err = err
	return nil, err
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}
