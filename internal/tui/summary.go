package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"shrink/internal/queue"
)

type SummaryRow struct {
	Label string
	Value string
}

// RenderSummary draws rows as a two-column label | value block.
func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, lipgloss.Width(row.Label))
		valueWidth = max(valueWidth, lipgloss.Width(row.Value))
	}

	hline := dimStyle.Render(strings.Repeat("-", labelWidth+valueWidth+3))
	lines := []string{hline}
	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		lines = append(lines, fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value)))
	}
	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

// SummaryRows describes a finished batch.
func SummaryRows(snap queue.Snapshot) []SummaryRow {
	counts := make(map[queue.Status]int)
	for _, e := range snap.Entries {
		counts[e.Status]++
	}
	stats := snap.Stats()
	return []SummaryRow{
		{Label: "Files", Value: fmt.Sprintf("%d", len(snap.Entries))},
		{Label: "Optimized", Value: fmt.Sprintf("%d", counts[queue.StatusSuccess])},
		{Label: "Unchanged", Value: fmt.Sprintf("%d", counts[queue.StatusNotModified])},
		{Label: "Failed", Value: fmt.Sprintf("%d", counts[queue.StatusFail])},
		{Label: "Not supported", Value: fmt.Sprintf("%d", counts[queue.StatusNotSupported])},
		{Label: "Space saved", Value: fmt.Sprintf("%s of %s", formatBytes(stats.SavingsSize), formatBytes(stats.TotalSize))},
		{Label: "Average savings", Value: formatPercent(stats.Average)},
		{Label: "Best savings", Value: formatPercent(stats.Top)},
	}
}

func formatBytes(n float64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.Bytes(uint64(n + 0.5))
}

func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}

var valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
