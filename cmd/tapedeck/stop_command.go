package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tapedeck/internal/session"
	"tapedeck/internal/status"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop [session-id]",
		Short: "Stop an active recording session",
		Long:  "Request a graceful stop. Without an id, the most recently active\nsession is targeted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var id string
			if len(args) == 1 {
				id = args[0]
				if !session.ValidID(id) {
					return fmt.Errorf("%q is not a session id", id)
				}
			} else {
				id, err = status.MostRecentActive(cfg.Paths.StatusDir)
				if err != nil {
					return err
				}
			}

			if err := status.RequestStop(cfg.Paths.SignalDir, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for %s\n", id)
			return nil
		},
	}
	return cmd
}
