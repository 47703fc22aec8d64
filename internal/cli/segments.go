package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/lingostream/internal/models"
	"github.com/raphaelgruber/lingostream/internal/parser"
)

// SegmentFile is the on-disk document format for `segments load`. Either
// list segments explicitly or give a text that is split into one segment
// per non-empty line.
type SegmentFile struct {
	DocumentID string           `yaml:"document_id"`
	Text       string           `yaml:"text,omitempty"`
	Segments   []models.Segment `yaml:"segments,omitempty"`
}

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Load and inspect segments",
}

var segmentsLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Upsert the segments of a document file",
	Long: `Upsert segments from a YAML, Markdown or plain-text document.

Markdown (.md) and text (.txt) files are cut by --split: sentence (default),
paragraph or line. Markdown headings become segments of their own and a
"document_id" in the frontmatter overrides the file name.

YAML files list segments explicitly.

Example file:
  document_id: lesson-1
  segments:
    - id: lesson-1-1
      text: 今日はいい天気ですね。
    - id: lesson-1-2
      text: 散歩に行きましょう。

Alternatively give "text:" and each non-empty line becomes a segment.
Editing a segment's text invalidates its cached explanation.`,
	Args: cobra.ExactArgs(1),
	RunE: runSegmentsLoad,
}

var segmentsShowCmd = &cobra.Command{
	Use:   "show <segment-id>",
	Short: "Show a segment and its explanation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seg, err := apiClient.GetSegment(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get segment: %w", err)
		}
		fmt.Printf("%s  %s\n", seg.ID, seg.Text)
		if seg.Explanation == nil {
			fmt.Println(defaultTheme.hintStyle().Render("not explained yet"))
			return nil
		}
		fmt.Println()
		printRecord(seg.Explanation)
		return nil
	},
}

var segmentsListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List a document's segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		segs, err := apiClient.ListSegments(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("list segments: %w", err)
		}
		if len(segs) == 0 {
			fmt.Println("No segments found")
			return nil
		}
		fmt.Printf("%-20s %-9s %s\n", "ID", "EXPLAINED", "TEXT")
		for _, s := range segs {
			explained := "no"
			if s.Explanation != nil {
				explained = "yes"
			}
			fmt.Printf("%-20s %-9s %s\n", s.ID, explained, truncate(s.Text, 60))
		}
		return nil
	},
}

var splitMode string

func init() {
	segmentsLoadCmd.Flags().StringVar(&splitMode, "split", "sentence", "How to cut .md/.txt files: sentence, paragraph or line")
	segmentsCmd.AddCommand(segmentsLoadCmd, segmentsShowCmd, segmentsListCmd)
}

func runSegmentsLoad(cmd *cobra.Command, args []string) error {
	mode, err := parser.ParseSplitMode(splitMode)
	if err != nil {
		return err
	}
	segs, err := loadSegmentsFile(args[0], mode)
	if err != nil {
		return err
	}
	n, err := apiClient.PutSegments(context.Background(), segs)
	if err != nil {
		return fmt.Errorf("put segments: %w", err)
	}
	fmt.Printf("Loaded %d segments into %s\n", n, segs[0].DocumentID)
	return nil
}

// loadSegmentsFile reads a document file and fills in document ids,
// positions and generated segment ids.
func loadSegmentsFile(path string, mode parser.SplitMode) ([]models.Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f SegmentFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		doc, err := parser.ParseMarkdown(string(raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		f.DocumentID = doc.FrontmatterString("document_id")
		for _, p := range parser.Segments(doc, mode) {
			f.Segments = append(f.Segments, models.Segment{Text: p.Text})
		}
	case ".txt":
		for _, text := range parser.SplitText(string(raw), mode) {
			f.Segments = append(f.Segments, models.Segment{Text: text})
		}
	default:
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if f.DocumentID == "" {
		f.DocumentID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	segs := f.Segments
	if len(segs) == 0 {
		for line := range strings.Lines(f.Text) {
			if line = strings.TrimSpace(line); line != "" {
				segs = append(segs, models.Segment{Text: line})
			}
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("%s: no segments", path)
	}

	for i := range segs {
		segs[i].DocumentID = f.DocumentID
		segs[i].Position = i
		if segs[i].ID == "" {
			segs[i].ID = fmt.Sprintf("%s-%d", f.DocumentID, i+1)
		}
		if strings.TrimSpace(segs[i].Text) == "" {
			return nil, fmt.Errorf("%s: segment %s has no text", path, segs[i].ID)
		}
	}
	return segs, nil
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
