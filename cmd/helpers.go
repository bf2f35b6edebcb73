package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"shrink/internal/queue"
)

func renderEntries(entries []queue.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		size, savings, diff := "-", "-", "-"
		if e.Size != nil {
			size = humanize.Bytes(uint64(max(*e.Size, 0)))
		}
		if e.Savings != nil {
			savings = fmt.Sprintf("%.1f%%", *e.Savings*100)
		}
		if e.Diff != nil {
			diff = fmt.Sprintf("%.4f", *e.Diff)
		}
		note := e.Message
		if e.IsConversion() {
			note = "from " + e.Original
			if e.Message != "" {
				note += ": " + e.Message
			}
		}
		rows = append(rows, []string{e.Path, string(e.Status), size, savings, diff, note})
	}
	return renderTable(
		[]string{"Path", "Status", "Size", "Savings", "Diff", "Note"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
