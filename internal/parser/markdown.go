// Package parser turns Markdown and plain-text documents into readable
// segments for the explanation pipeline.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+?)(?:\s+#+)?\s*$`)
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// Document is a parsed Markdown document.
type Document struct {
	// Frontmatter metadata (from YAML)
	Frontmatter map[string]any

	// Title from frontmatter or the first h1
	Title string

	// Body after frontmatter
	Body string

	Sections []Section
}

// Section is a heading and the prose under it. Text before the first
// heading becomes a level 0 section with an empty heading.
type Section struct {
	Level   int    // 0 for the preamble, 1-6 for h1-h6
	Heading string // heading text
	Path    string // e.g. "Lesson 1 > Dialogue"
	Content string // prose under the heading, code fences removed
	Start   int    // line number where the section starts
}

// ParseMarkdown parses a Markdown document into structured form. Malformed
// frontmatter is ignored rather than failing the document.
func ParseMarkdown(content string) (*Document, error) {
	doc := &Document{Frontmatter: make(map[string]any)}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	remaining := content
	if strings.HasPrefix(content, "---\n") {
		endIdx := strings.Index(content[4:], "\n---")
		if endIdx >= 0 {
			fm := content[4 : 4+endIdx]
			remaining = strings.TrimPrefix(content[4+endIdx+4:], "\n")
			if err := yaml.Unmarshal([]byte(fm), &doc.Frontmatter); err != nil || doc.Frontmatter == nil {
				doc.Frontmatter = make(map[string]any)
			}
		}
	}

	doc.Body = remaining
	doc.Title = extractTitle(doc.Frontmatter, remaining)
	doc.Sections = parseSections(remaining)
	return doc, nil
}

func extractTitle(fm map[string]any, content string) string {
	if title, ok := fm["title"].(string); ok && title != "" {
		return title
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) []Section {
	var sections []Section
	var path []string
	var levels []int

	current := &Section{Start: 1}
	var body strings.Builder
	inFence := false

	flush := func() {
		current.Content = strings.TrimSpace(body.String())
		if current.Heading != "" || current.Content != "" {
			sections = append(sections, *current)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()
		level := len(match[1])
		heading := strings.TrimSpace(match[2])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, heading)
		levels = append(levels, level)

		current = &Section{
			Level:   level,
			Heading: heading,
			Path:    strings.Join(path, " > "),
			Start:   lineNum,
		}
	}
	flush()

	return sections
}

// FrontmatterString extracts a string from frontmatter.
func (d *Document) FrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}
