package db

import (
	"context"
	"encoding/json"
	"fmt"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/lingostream/internal/models"
)

type segmentRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	DocumentID  string                 `json:"document_id"`
	Position    int                    `json:"position"`
	Text        string                 `json:"text"`
	Explanation *string                `json:"explanation,omitempty"`
}

func (r segmentRow) toModel() (models.Segment, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Segment{}, err
	}
	seg := models.Segment{ID: id, DocumentID: r.DocumentID, Position: r.Position, Text: r.Text}
	if r.Explanation != nil && *r.Explanation != "" {
		var rec models.ExplanationRecord
		if err := json.Unmarshal([]byte(*r.Explanation), &rec); err != nil {
			return models.Segment{}, fmt.Errorf("decode explanation of %s: %w", id, err)
		}
		seg.Explanation = &rec
	}
	return seg, nil
}

// GetSegment returns models.ErrSegmentNotFound for unknown ids.
func (c *Client) GetSegment(ctx context.Context, id string) (models.Segment, error) {
	results, err := query[[]segmentRow](ctx, c, `
		SELECT * FROM type::record("segment", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return models.Segment{}, fmt.Errorf("get segment: %w", err)
	}
	row, ok := first(results)
	if !ok {
		return models.Segment{}, fmt.Errorf("%w: %s", models.ErrSegmentNotFound, id)
	}
	return row.toModel()
}

// PutSegments upserts segments. A stored explanation survives only when the
// text is unchanged.
func (c *Client) PutSegments(ctx context.Context, segs []models.Segment) error {
	for _, seg := range segs {
		_, err := query[any](ctx, c, `
			UPSERT type::record("segment", $id) SET
				explanation = IF text = $text THEN explanation ELSE NONE END,
				document_id = $doc,
				position = $pos,
				text = $text,
				updated = time::now()
		`, map[string]any{
			"id":   seg.ID,
			"doc":  seg.DocumentID,
			"pos":  seg.Position,
			"text": seg.Text,
		})
		if err != nil {
			return fmt.Errorf("put segment %s: %w", seg.ID, err)
		}
	}
	return nil
}

func (c *Client) SaveExplanation(ctx context.Context, id string, rec models.ExplanationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode explanation: %w", err)
	}
	results, err := query[[]segmentRow](ctx, c, `
		UPDATE type::record("segment", $id) SET explanation = $explanation, updated = time::now()
	`, map[string]any{"id": id, "explanation": string(b)})
	if err != nil {
		return fmt.Errorf("save explanation: %w", err)
	}
	if _, ok := first(results); !ok {
		return fmt.Errorf("%w: %s", models.ErrSegmentNotFound, id)
	}
	return nil
}

// ListSegments returns a document's segments in position order.
func (c *Client) ListSegments(ctx context.Context, documentID string) ([]models.Segment, error) {
	results, err := query[[]segmentRow](ctx, c, `
		SELECT * FROM segment WHERE document_id = $doc ORDER BY position ASC
	`, map[string]any{"doc": documentID})
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	out := make([]models.Segment, 0)
	for _, r := range rows(results) {
		seg, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}
