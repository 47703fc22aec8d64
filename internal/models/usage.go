package models

import "time"

// Usage is the metadata a provider reports with a completed stream.
type Usage struct {
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	TotalPrice   *float64 `json:"total_price,omitempty"`
	Currency     string   `json:"currency,omitempty"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// TokenUsage is a persisted usage row for one settled request.
type TokenUsage struct {
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	UserID       string    `json:"user_id"`
	SegmentID    string    `json:"segment_id"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	CostPoints   int64     `json:"cost_points"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSummary aggregates token usage over a time window.
type UsageSummary struct {
	Since        time.Time        `json:"since"`
	Requests     int64            `json:"requests"`
	TotalTokens  int64            `json:"total_tokens"`
	CostPoints   int64            `json:"cost_points"`
	ByModel      map[string]int64 `json:"by_model"`
	ByUserPoints map[string]int64 `json:"by_user_points"`
}
