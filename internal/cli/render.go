package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/raphaelgruber/lingostream/internal/models"
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func printRecord(rec *models.ExplanationRecord) {
	writeRecord(os.Stdout, rec)
}

// writeRecord renders an explanation for reading in a terminal.
func writeRecord(w io.Writer, rec *models.ExplanationRecord) {
	heading := defaultTheme.statusStyle().Bold(true)

	fmt.Fprintln(w, heading.Render("Translation"))
	fmt.Fprintf(w, "  %s\n", rec.Translation)
	if rec.ReadingText != nil && *rec.ReadingText != "" {
		fmt.Fprintf(w, "  %s\n", defaultTheme.hintStyle().Render(*rec.ReadingText))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, heading.Render("Explanation"))
	fmt.Fprintf(w, "  %s\n", rec.Explanation)

	if len(rec.Vocabulary) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading.Render("Vocabulary"))
		for _, v := range rec.Vocabulary {
			word := v.Word
			if v.Reading != nil && *v.Reading != "" {
				word += " (" + *v.Reading + ")"
			}
			fmt.Fprintf(w, "  • %s: %s\n", word, v.Meaning)
			if v.Usage != "" {
				fmt.Fprintf(w, "    %s\n", v.Usage)
			}
			if v.Example != nil && *v.Example != "" {
				fmt.Fprintf(w, "    %s\n", defaultTheme.hintStyle().Render(*v.Example))
			}
		}
	}

	if len(rec.GrammarPoints) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading.Render("Grammar"))
		for _, g := range rec.GrammarPoints {
			fmt.Fprintf(w, "  • %s: %s\n", g.Point, g.Explanation)
			if g.Example != nil && *g.Example != "" {
				fmt.Fprintf(w, "    %s\n", defaultTheme.hintStyle().Render(*g.Example))
			}
		}
	}

	if rec.CulturalContext != nil && *rec.CulturalContext != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading.Render("Cultural context"))
		fmt.Fprintf(w, "  %s\n", *rec.CulturalContext)
	}
	if rec.LearningTips != nil && *rec.LearningTips != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, heading.Render("Tips"))
		fmt.Fprintf(w, "  %s\n", *rec.LearningTips)
	}
	if rec.DifficultyLevel != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Difficulty: %s\n", strings.ToLower(rec.DifficultyLevel))
	}
}
