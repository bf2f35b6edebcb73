package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shrink/internal/settings"
	"shrink/pkg/imgutil"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if ctx.configFlag != nil {
				target = strings.TrimSpace(*ctx.configFlag)
			}
			written, err := settings.WriteSample(target, force)
			if err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", written)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if !ctx.configExists {
				fmt.Fprintln(out, "Config file does not exist; defaults are in use")
			}

			rows := [][]string{{"optimize_disabled", yesNo(s.OptimizeDisabled)}}
			for _, format := range imgutil.Formats {
				rows = append(rows, []string{"quality." + format.String(), fmt.Sprintf("%d", s.Qualities.For(format))})
			}
			for _, format := range imgutil.Formats {
				targets := s.Fanout.Targets(format)
				if len(targets) == 0 {
					continue
				}
				names := make([]string, 0, len(targets))
				for _, target := range targets {
					names = append(names, target.String())
				}
				rows = append(rows, []string{"convert." + format.String(), strings.Join(names, ", ")})
			}
			rows = append(rows,
				[]string{"optimize.strip_metadata", yesNo(s.Optimize.StripMetadata)},
				[]string{"optimize.preserve_icc", yesNo(s.Optimize.PreserveICC)},
				[]string{"optimize.max_passes", fmt.Sprintf("%d", s.Optimize.MaxPasses)},
				[]string{"optimize.max_diff", fmt.Sprintf("%g", s.Optimize.MaxDiff)},
				[]string{"backup.dir", s.BackupDir},
				[]string{"backup.retention", s.BackupRetention.String()},
				[]string{"logging.level", s.Logging.Level},
				[]string{"logging.format", s.Logging.Format},
				[]string{"logging.file", s.Logging.File},
			)
			fmt.Fprintln(out, renderTable([]string{"Key", "Value"}, rows, nil))
			return nil
		},
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
