package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRestoreCommand(ctx *commandContext) *cobra.Command {
	var hash string

	cmd := &cobra.Command{
		Use:   "restore [flags] <path>...",
		Short: "Restore files to their original content from the latest backup",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash = strings.TrimSpace(hash)
			if hash != "" && len(args) > 1 {
				return fmt.Errorf("--hash restores a single path")
			}
			rt, err := ctx.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				key := hash
				if key == "" {
					rec, err := rt.store.Latest(cmd.Context(), path)
					if err != nil {
						return fmt.Errorf("find backup: %w", err)
					}
					key = rec.Hash
				}
				size, err := rt.engine.Restore(cmd.Context(), key, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Restored %s (%s) from %s\n", path, humanize.Bytes(uint64(size)), shortHash(key))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hash, "hash", "", "Restore this backup hash instead of the latest one")
	return cmd
}
