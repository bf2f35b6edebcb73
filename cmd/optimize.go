package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"shrink/internal/queue"
	"shrink/internal/settings"
	"shrink/internal/tui"
)

func newOptimizeCommand(ctx *commandContext) *cobra.Command {
	var (
		plain       bool
		interactive bool
		disable     bool
		qualities   []string
		converts    []string
	)

	cmd := &cobra.Command{
		Use:   "optimize [flags] <path>...",
		Short: "Optimize images and folders, converting into configured formats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if plain && interactive {
				return fmt.Errorf("--plain cannot be used with --interactive")
			}
			rt, err := ctx.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if _, err := rt.pruneBackups(cmd.Context(), rt.settings.BackupRetention); err != nil {
				rt.logger.Warn("expired backups not removed", slog.Any("error", err))
			}

			s := rt.settings
			if err := applyOverrides(&s, qualities, converts); err != nil {
				return err
			}
			if cmd.Flags().Changed("disable") {
				s.OptimizeDisabled = disable
			}

			q := queue.New(rt.engine, rt.logger)
			defer q.Close()

			paths := make([]string, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				paths = append(paths, abs)
			}
			if err := q.Add(cmd.Context(), s.Fanout, paths...); err != nil {
				return err
			}
			if err := q.Start(s.Qualities, s.OptimizeDisabled); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			useTUI := interactive || (!plain && isTerminal(out))
			if useTUI {
				model := tui.NewModel(q, tui.Options{
					Qualities: s.Qualities,
					Disabled:  s.OptimizeDisabled,
					Batch:     !interactive,
				})
				if _, err := tea.NewProgram(model, tea.WithContext(cmd.Context())).Run(); err != nil {
					return err
				}
			} else if err := q.Wait(cmd.Context()); err != nil {
				return err
			}

			snap := q.Snapshot()
			if !useTUI {
				fmt.Fprintln(out, renderEntries(snap.Entries))
			}
			fmt.Fprintln(out, tui.RenderSummary(tui.SummaryRows(snap)))
			return failedError(snap)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Print a table instead of the interactive view")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Keep the view open after the run to restore, rerun or clean")
	cmd.Flags().BoolVar(&disable, "disable", false, "Queue files without optimizing them")
	cmd.Flags().StringSliceVarP(&qualities, "quality", "q", nil, "Per-format quality override, e.g. jpeg=75")
	cmd.Flags().StringSliceVar(&converts, "convert", nil, "Additional conversion, e.g. png:jpeg")
	return cmd
}

// applyOverrides layers command line qualities and conversions over s.
func applyOverrides(s *settings.Settings, qualities, converts []string) error {
	if len(qualities) > 0 {
		parsed, err := settings.ParseQualityPairs(qualities)
		if err != nil {
			return err
		}
		for format, value := range parsed {
			s.Qualities[format] = value
		}
	}
	if len(converts) > 0 {
		raw, err := settings.ParseConvertPairs(converts)
		if err != nil {
			return err
		}
		extra, err := settings.ParseFanout(raw)
		if err != nil {
			return err
		}
		s.Fanout = s.Fanout.Merge(extra)
	}
	return nil
}

func failedError(snap queue.Snapshot) error {
	failed := 0
	for _, e := range snap.Entries {
		if e.Status == queue.StatusFail {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(snap.Entries))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
