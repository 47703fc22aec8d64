package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// ExtractJSON pulls the JSON object out of raw model output. Markdown fences
// are stripped; otherwise the text between the first '{' and the last '}' is used.
func ExtractJSON(text string) (string, bool) {
	s := strings.TrimSpace(text)

	if start := strings.Index(s, "```json"); start >= 0 {
		rest := s[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			s = strings.TrimSpace(rest[:end])
		} else {
			s = strings.TrimSpace(rest)
		}
	} else if strings.HasPrefix(s, "```") {
		rest := s[3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.LastIndex(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}

	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last < first {
		return "", false
	}
	return s[first : last+1], true
}

// ParseRecord decodes complete model output into a validated record.
func ParseRecord(text string) (*models.ExplanationRecord, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in model output", ErrProvider)
	}

	var rec models.ExplanationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed model output: %v", ErrProvider, err)
	}
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return &rec, nil
}

// ParsePartial makes a best-effort parse of an unfinished buffer. The result
// is advisory: it is whatever fields survive closing the truncated JSON.
func ParsePartial(buffer string) (models.PartialRecord, bool) {
	start := strings.IndexByte(buffer, '{')
	if start < 0 {
		return models.PartialRecord{}, false
	}

	for _, candidate := range repairCandidates(buffer[start:]) {
		var p models.PartialRecord
		if err := json.Unmarshal([]byte(candidate), &p); err == nil && !p.Empty() {
			return p, true
		}
	}
	return models.PartialRecord{}, false
}

type cutPoint struct {
	pos     int
	closers []byte
}

// repairCandidates returns progressively more conservative completions of a
// truncated JSON object: first closing everything as-is, then cutting back to
// the last comma so a half-written key or literal is dropped.
func repairCandidates(s string) []string {
	var (
		stack    []byte
		inString bool
		escaped  bool
		lastCut  *cutPoint
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			if len(stack) == 0 {
				return []string{s[:i+1]}
			}
		case ',':
			lastCut = &cutPoint{pos: i, closers: append([]byte(nil), stack...)}
		}
	}

	head := s
	if escaped {
		head = head[:len(head)-1]
	}
	if inString {
		head += `"`
	}
	candidates := []string{strings.TrimRight(head, " \t\r\n") + closeAll(stack)}

	if lastCut != nil {
		candidates = append(candidates, s[:lastCut.pos]+closeAll(lastCut.closers))
	}
	return candidates
}

func closeAll(stack []byte) string {
	var b strings.Builder
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
