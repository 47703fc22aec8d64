package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// SplitMode selects the unit a document is cut into.
type SplitMode string

const (
	SplitSentence  SplitMode = "sentence"
	SplitParagraph SplitMode = "paragraph"
	SplitLine      SplitMode = "line"
)

// ParseSplitMode validates a user supplied mode. Empty means sentence.
func ParseSplitMode(s string) (SplitMode, error) {
	switch m := SplitMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SplitSentence, nil
	case SplitSentence, SplitParagraph, SplitLine:
		return m, nil
	default:
		return "", fmt.Errorf("unknown split mode %q (want sentence, paragraph or line)", s)
	}
}

// Piece is one segment's worth of text and the heading it appeared under.
type Piece struct {
	Text        string
	HeadingPath string
}

var (
	listMarker  = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)
	quoteMarker = regexp.MustCompile(`^(?:>\s?)+`)
	imageRef    = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRef     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	emphasis    = regexp.MustCompile("(\\*\\*|__|\\*|`)")
)

// Segments cuts a parsed document into pieces. Headings become their own
// pieces so they get explained along with the prose.
func Segments(doc *Document, mode SplitMode) []Piece {
	var pieces []Piece
	for _, sec := range doc.Sections {
		if sec.Heading != "" {
			if h := cleanInline(sec.Heading); h != "" {
				pieces = append(pieces, Piece{Text: h, HeadingPath: sec.Path})
			}
		}
		for _, text := range splitBlock(sec.Content, mode, true) {
			pieces = append(pieces, Piece{Text: text, HeadingPath: sec.Path})
		}
	}
	return pieces
}

// SplitText cuts plain text without Markdown handling.
func SplitText(text string, mode SplitMode) []string {
	return splitBlock(strings.ReplaceAll(text, "\r\n", "\n"), mode, false)
}

func splitBlock(text string, mode SplitMode, markdown bool) []string {
	var out []string
	if mode == SplitLine {
		for line := range strings.Lines(text) {
			if line = cleanLine(line, markdown); line != "" {
				out = append(out, line)
			}
		}
		return out
	}

	for _, para := range paragraphs(text, markdown) {
		if mode == SplitParagraph {
			out = append(out, para)
			continue
		}
		for _, s := range splitSentences(para) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// paragraphs groups non-blank lines. List items start a new paragraph even
// without a blank line between them.
func paragraphs(text string, markdown bool) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, joinLines(cur))
			cur = cur[:0]
		}
	}
	for line := range strings.Lines(text) {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if markdown && listMarker.MatchString(strings.TrimSpace(line)) {
			flush()
		}
		if l := cleanLine(line, markdown); l != "" {
			cur = append(cur, l)
		}
	}
	flush()
	return out
}

// joinLines glues wrapped lines back together. CJK text has no spaces
// between words so lines ending in CJK join without one.
func joinLines(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			prev := []rune(lines[i-1])
			if !isCJK(prev[len(prev)-1]) {
				b.WriteByte(' ')
			}
		}
		b.WriteString(l)
	}
	return b.String()
}

func cleanLine(line string, markdown bool) string {
	line = strings.TrimSpace(line)
	if !markdown {
		return line
	}
	line = quoteMarker.ReplaceAllString(line, "")
	line = listMarker.ReplaceAllString(line, "")
	if strings.Trim(line, "-*_ ") == "" {
		return "" // thematic break
	}
	return cleanInline(line)
}

func cleanInline(s string) string {
	s = imageRef.ReplaceAllString(s, "")
	s = linkRef.ReplaceAllString(s, "$1")
	s = emphasis.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// splitSentences cuts at sentence-final punctuation. Full-width CJK
// terminators end a sentence immediately; Latin ones need trailing space.
// Closing quotes and brackets stay with their sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		var end bool
		switch r {
		case '。', '！', '？', '!', '?', '.':
			for i+1 < len(runes) && isCloser(runes[i+1]) {
				i++
				current.WriteRune(runes[i])
			}
			switch {
			case r == '。' || r == '！' || r == '？':
				end = true
			case i+1 >= len(runes) || unicode.IsSpace(runes[i+1]):
				end = !(r == '.' && isInitial(runes, i))
			case r != '.' && isCJK(runes[i+1]):
				end = true
			}
		}
		if end {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}

	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

// isInitial reports whether the period at i follows a lone capital, as in
// "J. Smith".
func isInitial(runes []rune, i int) bool {
	for i > 0 && isCloser(runes[i]) {
		i--
	}
	if i < 1 || !unicode.IsUpper(runes[i-1]) {
		return false
	}
	return i < 2 || unicode.IsSpace(runes[i-2])
}

func isCloser(r rune) bool {
	switch r {
	case '」', '』', '）', ')', '"', '\'', '”', '’', '»', '】':
		return true
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) ||
		(r >= 0x3000 && r <= 0x303f) || (r >= 0xff00 && r <= 0xffef)
}
