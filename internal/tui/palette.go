package tui

import (
	"github.com/charmbracelet/lipgloss"

	"shrink/internal/queue"
)

var (
	ColorInk       = lipgloss.Color("#E5E9F0")
	ColorDim       = lipgloss.Color("#7A8291")
	ColorAccent    = lipgloss.Color("#88C0D0")
	ColorAccentAlt = lipgloss.Color("#81A1C1")
	ColorSuccess   = lipgloss.Color("#A3BE8C")
	ColorWarn      = lipgloss.Color("#EBCB8B")
	ColorError     = lipgloss.Color("#BF616A")
)

// StatusGlyph returns the one-character marker drawn for status.
func StatusGlyph(status queue.Status) string {
	switch status {
	case queue.StatusProcessing:
		return "…"
	case queue.StatusSuccess:
		return "✓"
	case queue.StatusNotModified:
		return "="
	case queue.StatusFail:
		return "✗"
	case queue.StatusNotSupported:
		return "-"
	default:
		return "·"
	}
}

// StatusStyle colours an entry row by status.
func StatusStyle(status queue.Status) lipgloss.Style {
	style := lipgloss.NewStyle()
	switch status {
	case queue.StatusProcessing:
		return style.Foreground(ColorAccent).Bold(true)
	case queue.StatusSuccess:
		return style.Foreground(ColorSuccess)
	case queue.StatusFail:
		return style.Foreground(ColorError)
	case queue.StatusNotSupported:
		return style.Foreground(ColorWarn)
	case queue.StatusNotModified:
		return style.Foreground(ColorInk)
	default:
		return style.Foreground(ColorDim)
	}
}
