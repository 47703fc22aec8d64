package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/lingostream/internal/service"
	"github.com/raphaelgruber/lingostream/internal/stream"
)

var (
	explainForce bool
	explainLang  string
	explainWS    bool
)

var explainCmd = &cobra.Command{
	Use:   "explain <segment-id>",
	Short: "Explain one segment, streaming the result",
	Long: `Explain one segment. The translation is shown while it streams in and the
full explanation is printed when the model finishes.

A cached explanation is returned without charge unless --force is given.
Pressing Ctrl+C cancels the request; cancelled requests are refunded.

Examples:
  lingostream explain lesson-1-1
  lingostream explain lesson-1-1 --lang de --force`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().BoolVar(&explainForce, "force", false, "regenerate even if cached")
	explainCmd.Flags().StringVar(&explainLang, "lang", "", "target language code (default: server setting)")
	explainCmd.Flags().BoolVar(&explainWS, "ws", false, "stream over WebSocket instead of SSE")
}

func runExplain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	live := isTerminal(os.Stderr)
	lastLen := 0
	onUpdate := func(u stream.Update) error {
		switch u.Kind {
		case stream.UpdateWarning:
			fmt.Fprintln(os.Stderr, defaultTheme.hintStyle().Render("warning: "+u.Message))
		case stream.UpdatePartial:
			if live && u.Record != nil && len(u.Record.Translation) != lastLen {
				lastLen = len(u.Record.Translation)
				fmt.Fprintf(os.Stderr, "\r\033[K%s", truncate(u.Record.Translation, 100))
			}
		}
		return nil
	}

	opts := service.ExplainOptions{ForceRegenerate: explainForce, TargetLanguage: explainLang}
	explain := apiClient.Explain
	if explainWS {
		explain = apiClient.ExplainStream
	}
	res, err := explain(ctx, userID, args[0], opts, onUpdate)
	if live && lastLen > 0 {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cancelled; the hold is refunded")
		}
		return fmt.Errorf("explain: %w", err)
	}

	printRecord(res.Record)
	fmt.Println()
	switch {
	case res.Cached:
		fmt.Println(defaultTheme.hintStyle().Render("served from cache, no charge"))
	case res.SettlePending:
		fmt.Println(defaultTheme.errorStyle().Render(fmt.Sprintf("%d points owed; settlement is pending", res.Owed)))
	case res.Owed > 0:
		fmt.Println(defaultTheme.errorStyle().Render(fmt.Sprintf("charged %d points; account is %d points in debt", res.Charged, res.Owed)))
	default:
		fmt.Println(defaultTheme.hintStyle().Render(fmt.Sprintf("charged %d points (%d in / %d out tokens)",
			res.Charged, res.Usage.InputTokens, res.Usage.OutputTokens)))
	}
	return nil
}
