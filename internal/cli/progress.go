package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/lingostream/internal/client"
	"github.com/raphaelgruber/lingostream/internal/service"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// batchEventMsg carries one job event from the server.
type batchEventMsg struct {
	ev service.BatchEvent
}

// watchEndedMsg reports that the event stream closed.
type watchEndedMsg struct {
	done *service.BatchEvent
	err  error
}

// cancelSentMsg reports the result of a cancel request.
type cancelSentMsg struct {
	err error
}

// progressModel is the bubbletea model for batch progress.
type progressModel struct {
	client    *client.Client
	jobID     string
	total     int
	completed int
	success   int
	failed    int
	cancelled int
	failures  []string
	progress  progress.Model
	theme     Theme

	cancelling bool
	done       bool
	quitting   bool
	err        error
}

func newProgressModel(c *client.Client, snap *service.BatchSnapshot) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		client:    c,
		jobID:     snap.ID,
		total:     snap.Total,
		completed: snap.Completed,
		progress:  prog,
		theme:     defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "x":
			if m.cancelling {
				return m, nil
			}
			m.cancelling = true
			return m, m.cancelJob()
		}

	case batchEventMsg:
		m = m.apply(msg.ev)
		if m.done {
			return m, tea.Quit
		}
		return m, nil

	case watchEndedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("watch job: %w", msg.err)
		} else if msg.done != nil {
			m = m.apply(*msg.done)
		}
		m.done = true
		return m, tea.Quit

	case cancelSentMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("cancel job: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds one event into the model. Counts only move forward.
func (m progressModel) apply(ev service.BatchEvent) progressModel {
	switch ev.Type {
	case service.EventProgress:
		if ev.Total > 0 {
			m.total = ev.Total
		}
		m.completed = max(m.completed, ev.Completed)
	case service.EventSegmentUpdated:
		if ev.Outcome == service.OutcomeFailed {
			msg := ev.SegmentID
			if ev.Reason != nil {
				msg += ": " + ev.Reason.Code
			}
			m.failures = append(m.failures, msg)
		}
	case service.EventDone:
		m.completed = max(m.completed, ev.Completed)
		m.success = ev.Success
		m.failed = ev.Failed
		m.cancelled = ev.Cancelled
		m.done = true
	}
	return m
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.completed) / float64(m.total)
	}
	state := "running"
	if m.cancelling {
		state = "cancelling"
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", state))
	counts := fmt.Sprintf("%d/%d segments", m.completed, m.total)
	hint := m.theme.hintStyle().Render("x to cancel the batch, q to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nBatch %s continues in background.\nUse 'lingostream jobs %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	var b strings.Builder
	if m.cancelled > 0 {
		b.WriteString(m.theme.errorStyle().Render("■ Cancelled") + "\n\n")
	} else {
		b.WriteString(m.theme.completedStyle().Render("✓ Completed") + "\n\n")
	}
	fmt.Fprintf(&b, "  Explained:  %d\n", m.success)
	fmt.Fprintf(&b, "  Failed:     %d\n", m.failed)
	if m.cancelled > 0 {
		fmt.Fprintf(&b, "  Cancelled:  %d\n", m.cancelled)
	}
	if len(m.failures) > 0 {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("\nFailures (%d):\n", len(m.failures))))
		for _, f := range m.failures {
			fmt.Fprintf(&b, "  • %s\n", f)
		}
	}
	return b.String()
}

func (m progressModel) cancelJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := m.client.CancelBatch(ctx, m.jobID)
		return cancelSentMsg{err: err}
	}
}

// RunBatchProgress runs the interactive progress UI for a batch.
// Returns nil on completion or when detached, error on watch failure.
func RunBatchProgress(c *client.Client, snap *service.BatchSnapshot) error {
	p := tea.NewProgram(newProgressModel(c, snap))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		done, err := c.WatchBatch(ctx, snap.ID, func(ev service.BatchEvent) error {
			p.Send(batchEventMsg{ev: ev})
			return nil
		})
		if ctx.Err() == nil {
			p.Send(watchEndedMsg{done: done, err: err})
		}
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && !m.quitting && m.err != nil {
		return m.err
	}
	return nil
}
