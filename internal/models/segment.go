// Package models defines the data structures shared by the explanation pipeline.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSegmentNotFound is returned by segment stores for unknown ids.
var ErrSegmentNotFound = errors.New("segment not found")

// Segment is an immutable unit of source text. The pipeline reads its text and
// identifier; the explanation is written back by the caller.
type Segment struct {
	ID          string             `json:"id" yaml:"id"`
	DocumentID  string             `json:"document_id,omitempty" yaml:"document_id,omitempty"`
	Position    int                `json:"position" yaml:"position"`
	Text        string             `json:"text" yaml:"text"`
	Explanation *ExplanationRecord `json:"explanation,omitempty" yaml:"-"`
}

// Fingerprint returns the content fingerprint used to key cached explanations.
// Editing the text changes the fingerprint and invalidates the cache entry.
func (s Segment) Fingerprint() string {
	return Fingerprint(s.Text)
}

// Fingerprint hashes segment text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
