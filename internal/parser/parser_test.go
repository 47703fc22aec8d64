package parser

import (
	"slices"
	"testing"
)

const lessonDoc = "---\ntitle: Lesson\ndocument_id: lesson-1\n---\nIntro line.\n\n# Greetings\nおはようございます。こんにちは！\n\n## Phrases\n- Guten Morgen.\n- Wie geht's?\n\n```\ncode here\n```\n"

func TestParseMarkdown(t *testing.T) {
	doc, err := ParseMarkdown(lessonDoc)
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}
	if doc.Title != "Lesson" {
		t.Errorf("Title = %q, want Lesson", doc.Title)
	}
	if got := doc.FrontmatterString("document_id"); got != "lesson-1" {
		t.Errorf("document_id = %q, want lesson-1", got)
	}

	want := []Section{
		{Level: 0, Content: "Intro line.", Start: 1},
		{Level: 1, Heading: "Greetings", Path: "Greetings", Content: "おはようございます。こんにちは！", Start: 3},
		{Level: 2, Heading: "Phrases", Path: "Greetings > Phrases", Content: "- Guten Morgen.\n- Wie geht's?", Start: 6},
	}
	if !slices.Equal(doc.Sections, want) {
		t.Errorf("Sections =\n%+v\nwant\n%+v", doc.Sections, want)
	}
}

func TestParseMarkdown_BadFrontmatter(t *testing.T) {
	doc, err := ParseMarkdown("---\n: [\n---\n# Title\n")
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}
	if len(doc.Frontmatter) != 0 {
		t.Errorf("Frontmatter = %v, want empty", doc.Frontmatter)
	}
	if doc.Title != "Title" {
		t.Errorf("Title = %q, want Title", doc.Title)
	}
}

func TestSegments(t *testing.T) {
	doc, err := ParseMarkdown(lessonDoc)
	if err != nil {
		t.Fatalf("ParseMarkdown() error = %v", err)
	}

	tests := []struct {
		mode SplitMode
		want []string
	}{
		{SplitSentence, []string{"Intro line.", "Greetings", "おはようございます。", "こんにちは！", "Phrases", "Guten Morgen.", "Wie geht's?"}},
		{SplitParagraph, []string{"Intro line.", "Greetings", "おはようございます。こんにちは！", "Phrases", "Guten Morgen.", "Wie geht's?"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			pieces := Segments(doc, tt.mode)
			got := make([]string, len(pieces))
			for i, p := range pieces {
				got[i] = p.Text
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Segments() = %q, want %q", got, tt.want)
			}
			if last := pieces[len(pieces)-1]; last.HeadingPath != "Greetings > Phrases" {
				t.Errorf("last HeadingPath = %q", last.HeadingPath)
			}
		})
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		text string
		mode SplitMode
		want []string
	}{
		{"closing bracket stays", "「行こう。」と言った。", SplitSentence, []string{"「行こう。」", "と言った。"}},
		{"initial is not an end", "J. Smith went home. Then he slept.", SplitSentence, []string{"J. Smith went home.", "Then he slept."}},
		{"mixed terminators", "本当!?すごい。", SplitSentence, []string{"本当!?", "すごい。"}},
		{"decimal", "Version 1.5 is out.", SplitSentence, []string{"Version 1.5 is out."}},
		{"wrapped paragraph", "これは\n長い文です。\nThis is\nwrapped.", SplitParagraph, []string{"これは長い文です。This is wrapped."}},
		{"lines", "a\n\n b \n", SplitLine, []string{"a", "b"}},
		{"empty", "  \n\n", SplitSentence, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SplitText(tt.text, tt.mode); !slices.Equal(got, tt.want) {
				t.Errorf("SplitText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"> **Bold** and [link](http://x) `code`", "Bold and link code"},
		{"1. 最初", "最初"},
		{"* * *", ""},
		{"---", ""},
		{"![alt](img.png) caption", "caption"},
	}
	for _, tt := range tests {
		if got := cleanLine(tt.in, true); got != tt.want {
			t.Errorf("cleanLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSplitMode(t *testing.T) {
	if m, err := ParseSplitMode(""); err != nil || m != SplitSentence {
		t.Errorf("ParseSplitMode(\"\") = %q, %v", m, err)
	}
	if m, err := ParseSplitMode("Paragraph"); err != nil || m != SplitParagraph {
		t.Errorf("ParseSplitMode(Paragraph) = %q, %v", m, err)
	}
	if _, err := ParseSplitMode("word"); err == nil {
		t.Error("ParseSplitMode(word) should fail")
	}
}
