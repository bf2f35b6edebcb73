package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"shrink/internal/queue"
	"shrink/internal/settings"
)

// Controller is the queue surface the view drives.
type Controller interface {
	Snapshot() queue.Snapshot
	Updates() <-chan queue.Snapshot
	Start(qualities settings.Qualities, disabled bool) error
	Reset() error
	Restore(ctx context.Context, hash, path string) error
	Clean() bool
	Wait(ctx context.Context) error
}

// Options configures the view.
type Options struct {
	Qualities settings.Qualities
	Disabled  bool
	// Batch quits the program once the run finishes.
	Batch bool
}

type Model struct {
	ctrl     Controller
	opts     Options
	snap     queue.Snapshot
	cursor   int
	width    int
	height   int
	started  time.Time
	notice   string
	quitting bool
}

type snapshotMsg queue.Snapshot

type closedMsg struct{}

type finishedMsg struct{}

type actionMsg struct {
	notice string
	err    error
}

func NewModel(ctrl Controller, opts Options) Model {
	return Model{ctrl: ctrl, opts: opts, snap: ctrl.Snapshot(), started: time.Now()}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{listenForUpdates(m.ctrl.Updates())}
	if m.opts.Batch {
		cmds = append(cmds, waitForRun(m.ctrl))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = queue.Snapshot(msg)
		m.cursor = clampCursor(m.cursor, len(m.snap.Entries))
		return m, listenForUpdates(m.ctrl.Updates())
	case finishedMsg:
		m.snap = m.ctrl.Snapshot()
		m.quitting = true
		return m, tea.Quit
	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	case actionMsg:
		m.notice = msg.notice
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		m.cursor = clampCursor(m.cursor-1, len(m.snap.Entries))
	case "down", "j":
		m.cursor = clampCursor(m.cursor+1, len(m.snap.Entries))
	case "r":
		return m, rerun(m.ctrl, m.opts)
	case "c":
		return m, clean(m.ctrl)
	case "u":
		entry, ok := m.Selected()
		if !ok {
			return m, nil
		}
		if entry.Hash == "" {
			m.notice = fmt.Sprintf("%s has no backup to restore", entry.Path)
			return m, nil
		}
		return m, restore(m.ctrl, entry.Hash, entry.Path)
	}
	return m, nil
}

// Selected returns the entry under the cursor.
func (m Model) Selected() (queue.Entry, bool) {
	if m.cursor < 0 || m.cursor >= len(m.snap.Entries) {
		return queue.Entry{}, false
	}
	return m.snap.Entries[m.cursor], true
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	entries := m.snap.Entries
	done := 0
	for _, e := range entries {
		if e.Status.Terminal() {
			done++
		}
	}
	ratio := 0.0
	if len(entries) > 0 {
		ratio = float64(done) / float64(len(entries))
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	state := "idle"
	if m.snap.Processing {
		state = "running"
	}
	lines := []string{titleStyle.Render("shrink") + dimStyle.Render("  "+state)}

	first, last := m.window(len(entries))
	pathWidth := 0
	for _, e := range entries[first:last] {
		pathWidth = max(pathWidth, lipgloss.Width(e.Path))
	}
	for i := first; i < last; i++ {
		lines = append(lines, m.renderEntry(i, entries[i], pathWidth))
	}
	if len(entries) == 0 {
		lines = append(lines, dimStyle.Render("  queue is empty"))
	}

	stats := m.snap.Stats()
	lines = append(lines,
		"",
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", done, len(entries)))+
			dimStyle.Render(fmt.Sprintf("  elapsed:%s", time.Since(m.started).Round(time.Second))),
		barStyle.Render(renderBar(barWidth, ratio)),
		labelStyle.Render(fmt.Sprintf("Saved %s of %s", formatBytes(stats.SavingsSize), formatBytes(stats.TotalSize)))+
			dimStyle.Render(fmt.Sprintf("  avg %s  best %s", formatPercent(stats.Average), formatPercent(stats.Top))),
	)
	if m.notice != "" {
		lines = append(lines, noticeStyle.Render(m.notice))
	}
	lines = append(lines, dimStyle.Render("↑/↓ select · r rerun · u restore · c clean · q quit"))
	return strings.Join(lines, "\n")
}

func (m Model) renderEntry(i int, e queue.Entry, pathWidth int) string {
	pointer := "  "
	if i == m.cursor {
		pointer = "> "
	}
	style := StatusStyle(e.Status)
	row := pointer + style.Render(StatusGlyph(e.Status)) + " " + padRight(e.Path, pathWidth)

	switch e.Status {
	case queue.StatusSuccess, queue.StatusNotModified:
		if e.Size != nil {
			row += "  " + formatBytes(float64(*e.Size))
		}
		if e.Savings != nil {
			row += "  " + style.Render("-"+formatPercent(*e.Savings))
		}
		if e.Diff != nil {
			row += dimStyle.Render(fmt.Sprintf("  diff %.4f", *e.Diff))
		}
	case queue.StatusFail:
		row += "  " + style.Render(e.Message)
	case queue.StatusProcessing:
		row += "  " + style.Render("processing")
	case queue.StatusNotSupported:
		row += "  " + style.Render("not supported")
	}
	if e.IsConversion() {
		row += dimStyle.Render("  from " + e.Original)
	}
	return row
}

// window bounds the rendered rows to the terminal height, keeping the
// cursor visible.
func (m Model) window(n int) (int, int) {
	rows := n
	if m.height > 0 {
		rows = max(m.height-8, 5)
	}
	if rows >= n {
		return 0, n
	}
	first := m.cursor - rows/2
	first = max(0, min(first, n-rows))
	return first, first + rows
}

func clampCursor(cursor, n int) int {
	if n == 0 {
		return 0
	}
	return max(0, min(cursor, n-1))
}

func listenForUpdates(updates <-chan queue.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func waitForRun(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		_ = ctrl.Wait(context.Background())
		return finishedMsg{}
	}
}

func rerun(ctrl Controller, opts Options) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Reset(); err != nil {
			return actionMsg{err: err}
		}
		if err := ctrl.Start(opts.Qualities, opts.Disabled); err != nil {
			return actionMsg{err: err}
		}
		if opts.Disabled {
			return actionMsg{notice: "queue reset; optimization is disabled"}
		}
		return actionMsg{notice: "queue reset; running again"}
	}
}

func clean(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if !ctrl.Clean() {
			return actionMsg{notice: "cannot clean while a run is active"}
		}
		return actionMsg{notice: "queue cleaned"}
	}
}

func restore(ctrl Controller, hash, path string) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.Restore(context.Background(), hash, path)
		switch {
		case errors.Is(err, queue.ErrEntryBusy):
			return actionMsg{notice: fmt.Sprintf("%s is being processed", path)}
		case err != nil:
			return actionMsg{err: err}
		}
		return actionMsg{notice: fmt.Sprintf("restored %s", path)}
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle  = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle    = lipgloss.NewStyle().Foreground(ColorAccentAlt)
	dimStyle    = lipgloss.NewStyle().Foreground(ColorDim)
	noticeStyle = lipgloss.NewStyle().Foreground(ColorWarn)
)
