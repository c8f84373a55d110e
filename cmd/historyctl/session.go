package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"roomhistory/internal/docfile"
	"roomhistory/internal/history"
	"roomhistory/internal/snapshot"
)

func (c *cli) autosaveCmd() *cobra.Command {
	var (
		roomID   string
		userID   string
		docPath  string
		interval time.Duration
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "autosave",
		Short: "Autosave a document file until interrupted",
		Long: `autosave samples the document file on every interval and saves a version
whenever its content changed since the previous sample. The first sample is
the baseline and is not saved. Stop with Ctrl-C; a save that already
reached the blob store is committed before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := docfile.Open(docPath)
			if err != nil {
				return err
			}
			if interval <= 0 {
				interval = c.cfg.AutosaveInterval
			}
			delay := c.cfg.AutosaveInitialDelay
			if delay == 0 {
				delay = -1
			}

			exporter := &snapshot.Exporter{Provider: doc, AppVersion: c.cfg.AppVersion}
			saver := history.NewAutosaver(history.AutosaveConfig{
				RoomID:       roomID,
				UserID:       userID,
				Interval:     interval,
				InitialDelay: delay,
				KeepLast:     c.cfg.MaxVersions,
			}, exporter, c.rt.Recorder, c.rt.Retention, c.rt.Reporter, c.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "autosaving %s as room %s every %s\n", docPath, roomID, interval)
			saver.Run(ctx)

			hash, _ := saver.LastContentHash()
			result := map[string]any{"roomId": roomID, "lastContentHash": hash, "state": saver.State().String()}
			return c.emit(cmd, result, func(w io.Writer) {
				fmt.Fprintf(w, "stopped; last content hash %s\n", snapshot.ShortHash(hash))
			})
		},
	}
	cmd.Flags().StringVar(&roomID, "room", "", "room id")
	cmd.Flags().StringVar(&userID, "user", "", "user id recorded as the author")
	cmd.Flags().StringVar(&docPath, "doc", "", "document file")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sampling interval (default: AUTOSAVE_INTERVAL_SECONDS)")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: run until interrupted)")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("doc")
	return cmd
}

func (c *cli) restoreCmd() *cobra.Command {
	var docPath string
	cmd := &cobra.Command{
		Use:   "restore <room> <version>",
		Short: "Replace a document file's current page with a saved version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docPath == "" {
				return errors.New("--doc is required")
			}
			doc, err := docfile.Open(docPath)
			if err != nil {
				return err
			}
			v, err := c.rt.Loader.Restore(cmd.Context(), doc, args[0], args[1])
			if err != nil {
				return err
			}
			return c.emit(cmd, v, func(w io.Writer) {
				fmt.Fprintf(w, "restored %s (%s) into %s\n", v.ID, snapshot.ShortHash(v.ContentHash), docPath)
			})
		},
	}
	cmd.Flags().StringVar(&docPath, "doc", "", "document file")
	return cmd
}
