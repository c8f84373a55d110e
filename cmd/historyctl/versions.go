package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"roomhistory/internal/snapshot"
	"roomhistory/internal/store"
)

func (c *cli) versionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List, show, export and delete saved versions",
	}
	cmd.AddCommand(c.versionsListCmd())
	cmd.AddCommand(c.versionsShowCmd())
	cmd.AddCommand(c.versionsExportCmd())
	cmd.AddCommand(c.versionsDeleteCmd())
	return cmd
}

func (c *cli) versionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <room>",
		Short: "List the versions of a room, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				limit = c.cfg.MaxVersions
			}
			versions, err := c.rt.Loader.List(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return c.emit(cmd, versions, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tBY\tLABEL\tBYTES\tHASH")
				for _, v := range versions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						v.ID, v.CreatedAt.UTC().Format(time.RFC3339), v.CreatedBy, v.Label, v.Bytes, snapshot.ShortHash(v.ContentHash))
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum versions to list (default: HISTORY_MAX_VERSIONS)")
	return cmd
}

func (c *cli) versionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <room> <version>",
		Short: "Show the metadata of one version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.rt.Loader.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.emit(cmd, v, func(w io.Writer) { printVersion(w, v) })
		},
	}
}

func printVersion(w io.Writer, v store.VersionMetadata) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", v.ID)
	fmt.Fprintf(tw, "room:\t%s\n", v.RoomID)
	fmt.Fprintf(tw, "created:\t%s\n", v.CreatedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(tw, "created by:\t%s\n", v.CreatedBy)
	fmt.Fprintf(tw, "label:\t%s\n", v.Label)
	fmt.Fprintf(tw, "bytes:\t%d\n", v.Bytes)
	fmt.Fprintf(tw, "content hash:\t%s\n", v.ContentHash)
	fmt.Fprintf(tw, "checksum:\t%s\n", v.Checksum)
	fmt.Fprintf(tw, "schema:\t%d\n", v.SchemaVersion)
	fmt.Fprintf(tw, "path:\t%s\n", v.StoragePath)
	_ = tw.Flush()
}

func (c *cli) versionsExportCmd() *cobra.Command {
	var (
		output string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "export <room> <version>",
		Short: "Write a version's snapshot as JSON, or the stored gzip payload with --raw",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if raw {
				_, payload, err := c.rt.Loader.Payload(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				data = payload
			} else {
				_, snap, err := c.rt.Loader.Load(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				data, err = json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal snapshot: %w", err)
				}
				data = append(data, '\n')
			}

			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&raw, "raw", false, "write the compressed payload as stored")
	return cmd
}

func (c *cli) versionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <room> <version>",
		Short: "Delete a version record; its blob is reclaimed by reconcile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.rt.Recorder.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			result := map[string]any{"deleted": true, "roomId": args[0], "versionId": args[1]}
			return c.emit(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s from %s\n", args[1], args[0])
			})
		},
	}
}
