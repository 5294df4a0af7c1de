package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tapedeck/internal/session"
	"tapedeck/internal/status"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "status [session-id]",
		Short: "Show active recording sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var snapshots []status.Snapshot
			if len(args) == 1 {
				if !session.ValidID(args[0]) {
					return fmt.Errorf("%q is not a session id", args[0])
				}
				snap, err := status.Read(cfg.Paths.StatusDir, args[0])
				if err != nil {
					return fmt.Errorf("no status for %s: %w", args[0], err)
				}
				snapshots = []status.Snapshot{snap}
			} else {
				active, err := status.ListActive(cfg.Paths.StatusDir)
				if err != nil {
					return err
				}
				for _, entry := range active {
					snapshots = append(snapshots, entry.Snapshot)
				}
			}

			if jsonFlag {
				return writeJSON(cmd, snapshots)
			}
			if len(snapshots) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active sessions.")
				return nil
			}

			rows := make([][]string, 0, len(snapshots))
			for _, snap := range snapshots {
				rows = append(rows, []string{
					snap.SessionID,
					statusCell(snap),
					(time.Duration(snap.Elapsed) * time.Second).String(),
					progressCell(snap.Progress),
					channelCell(snap.LoopbackFrames, snap.LoopbackHasAudio),
					channelCell(snap.MicFrames, snap.MicHasAudio),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"SESSION", "STATUS", "ELAPSED", "PROGRESS", "LOOPBACK", "MIC"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			if len(snapshots) == 1 && snapshots[0].OutputFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Output: %s (%.1f MB)\n",
					snapshots[0].OutputFile, snapshots[0].FileSizeMB)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	return cmd
}

func statusCell(snap status.Snapshot) string {
	if snap.Partial {
		return snap.Status + " (partial)"
	}
	return snap.Status
}

func progressCell(progress *int) string {
	if progress == nil {
		return "-"
	}
	return strconv.Itoa(*progress) + "%"
}

func channelCell(frames int64, hasAudio bool) string {
	marker := "silent"
	if hasAudio {
		marker = "audio"
	}
	return fmt.Sprintf("%d (%s)", frames, marker)
}
