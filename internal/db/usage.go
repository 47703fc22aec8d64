package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// RecordTokenUsage stores one usage row.
func (c *Client) RecordTokenUsage(ctx context.Context, u models.TokenUsage) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := query[any](ctx, c, `
		CREATE token_usage CONTENT {
			operation: $operation,
			model: $model,
			user_id: $user,
			segment_id: $segment,
			input_tokens: $input,
			output_tokens: $output,
			total_tokens: $total,
			cost_points: $cost,
			created: $created
		}
	`, map[string]any{
		"operation": u.Operation,
		"model":     u.Model,
		"user":      u.UserID,
		"segment":   u.SegmentID,
		"input":     u.InputTokens,
		"output":    u.OutputTokens,
		"total":     u.TotalTokens,
		"cost":      u.CostPoints,
		"created":   created,
	})
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

type usageGroupRow struct {
	Model       string `json:"model"`
	UserID      string `json:"user_id"`
	Requests    int64  `json:"requests"`
	TotalTokens int64  `json:"total_tokens"`
	CostPoints  int64  `json:"cost_points"`
}

// UsageSummary aggregates usage rows created at or after since.
func (c *Client) UsageSummary(ctx context.Context, since time.Time) (models.UsageSummary, error) {
	results, err := query[[]usageGroupRow](ctx, c, `
		SELECT model, user_id,
			count() AS requests,
			math::sum(total_tokens) AS total_tokens,
			math::sum(cost_points) AS cost_points
		FROM token_usage WHERE created >= $since
		GROUP BY model, user_id
	`, map[string]any{"since": since})
	if err != nil {
		return models.UsageSummary{}, fmt.Errorf("usage summary: %w", err)
	}

	sum := models.UsageSummary{
		Since:        since,
		ByModel:      map[string]int64{},
		ByUserPoints: map[string]int64{},
	}
	for _, r := range rows(results) {
		sum.Requests += r.Requests
		sum.TotalTokens += r.TotalTokens
		sum.CostPoints += r.CostPoints
		sum.ByModel[r.Model] += r.TotalTokens
		sum.ByUserPoints[r.UserID] += r.CostPoints
	}
	return sum, nil
}
