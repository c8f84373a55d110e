package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func (c *cli) pruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune <room>",
		Short: "Delete all but the newest versions of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = c.rt.Retention.KeepLast()
			}
			result, err := c.rt.Retention.Prune(cmd.Context(), args[0], keep)
			if err != nil && result.Listed == 0 {
				return err
			}
			if emitErr := c.emit(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "listed %d, kept %d, deleted %d\n", result.Listed, result.Kept, len(result.Deleted))
				for _, id := range result.Deleted {
					fmt.Fprintf(w, "  %s\n", id)
				}
			}); emitErr != nil {
				return emitErr
			}
			return err
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "versions to keep (default: HISTORY_MAX_VERSIONS)")
	return cmd
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Delete blobs that no version record points to",
		Long: `reconcile lists every blob under rooms/, and deletes those without a
metadata record that are older than RECONCILE_GRACE_SECONDS. Younger blobs
may belong to a save that has not committed yet and are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.rt.Reconciler.Reconcile(cmd.Context())
			if emitErr := c.emit(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "scanned %d: live %d, young %d, foreign %d, orphaned %d, deleted %d\n",
					result.Scanned, result.Live, result.Young, result.Foreign, result.Orphaned, len(result.Deleted))
				if len(result.Deleted) > 0 {
					fmt.Fprintf(w, "  %s\n", strings.Join(result.Deleted, "\n  "))
				}
			}); emitErr != nil {
				return emitErr
			}
			return err
		},
	}
}
