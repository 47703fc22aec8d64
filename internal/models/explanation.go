package models

import (
	"errors"
	"strings"
)

// Difficulty levels accepted on an explanation.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// ErrIncompleteRecord is returned by Validate for records missing required fields.
var ErrIncompleteRecord = errors.New("incomplete explanation record")

// ExplanationRecord is the structured translate-and-explain output for one segment.
type ExplanationRecord struct {
	Translation     string           `json:"translation"`
	Explanation     string           `json:"explanation"`
	ReadingText     *string          `json:"reading_text,omitempty"`
	Vocabulary      []VocabularyItem `json:"vocabulary"`
	GrammarPoints   []GrammarPoint   `json:"grammar_points"`
	CulturalContext *string          `json:"cultural_context,omitempty"`
	DifficultyLevel string           `json:"difficulty_level"`
	LearningTips    *string          `json:"learning_tips,omitempty"`
}

// VocabularyItem is one word or phrase worth learning from the segment.
type VocabularyItem struct {
	Word    string  `json:"word"`
	Meaning string  `json:"meaning"`
	Usage   string  `json:"usage"`
	Example *string `json:"example,omitempty"`
	Reading *string `json:"reading,omitempty"`
}

// GrammarPoint is one grammar pattern used in the segment.
type GrammarPoint struct {
	Point       string  `json:"point"`
	Explanation string  `json:"explanation"`
	Example     *string `json:"example,omitempty"`
}

// NormalizeDifficulty lowercases a difficulty label and drops unknown values.
func NormalizeDifficulty(s string) string {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return v
	default:
		return ""
	}
}

// Validate checks that a sealed record carries the required fields.
func (r *ExplanationRecord) Validate() error {
	if r == nil {
		return ErrIncompleteRecord
	}
	if strings.TrimSpace(r.Translation) == "" {
		return errors.Join(ErrIncompleteRecord, errors.New("missing translation"))
	}
	if strings.TrimSpace(r.Explanation) == "" {
		return errors.Join(ErrIncompleteRecord, errors.New("missing explanation"))
	}
	return nil
}

// Normalize fixes up fields a model commonly gets slightly wrong.
func (r *ExplanationRecord) Normalize() {
	r.DifficultyLevel = NormalizeDifficulty(r.DifficultyLevel)
	if r.Vocabulary == nil {
		r.Vocabulary = []VocabularyItem{}
	}
	if r.GrammarPoints == nil {
		r.GrammarPoints = []GrammarPoint{}
	}
}

// Clone returns a deep copy, so snapshots handed to callers never alias
// a record that is still being assembled.
func (r *ExplanationRecord) Clone() *ExplanationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.ReadingText = cloneString(r.ReadingText)
	out.CulturalContext = cloneString(r.CulturalContext)
	out.LearningTips = cloneString(r.LearningTips)
	if r.Vocabulary != nil {
		out.Vocabulary = make([]VocabularyItem, len(r.Vocabulary))
		for i, v := range r.Vocabulary {
			v.Example = cloneString(v.Example)
			v.Reading = cloneString(v.Reading)
			out.Vocabulary[i] = v
		}
	}
	if r.GrammarPoints != nil {
		out.GrammarPoints = make([]GrammarPoint, len(r.GrammarPoints))
		for i, g := range r.GrammarPoints {
			g.Example = cloneString(g.Example)
			out.GrammarPoints[i] = g
		}
	}
	return &out
}

// PartialRecord carries the subset of explanation fields known so far.
// A nil field is absent; an empty slice is a present, empty list.
type PartialRecord struct {
	Translation     *string          `json:"translation,omitempty"`
	Explanation     *string          `json:"explanation,omitempty"`
	ReadingText     *string          `json:"reading_text,omitempty"`
	Vocabulary      []VocabularyItem `json:"vocabulary,omitempty"`
	GrammarPoints   []GrammarPoint   `json:"grammar_points,omitempty"`
	CulturalContext *string          `json:"cultural_context,omitempty"`
	DifficultyLevel *string          `json:"difficulty_level,omitempty"`
	LearningTips    *string          `json:"learning_tips,omitempty"`
}

// Empty reports whether no field is present.
func (p PartialRecord) Empty() bool {
	return p.Translation == nil && p.Explanation == nil && p.ReadingText == nil &&
		p.Vocabulary == nil && p.GrammarPoints == nil && p.CulturalContext == nil &&
		p.DifficultyLevel == nil && p.LearningTips == nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
