package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tapedeck/internal/devices"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List available sound cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := devices.List()
			if err != nil {
				return err
			}

			if jsonFlag {
				return writeJSON(cmd, deviceViews(list))
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sound cards found.")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, d := range list {
				rows = append(rows, []string{
					d.ALSAName(),
					d.Label(),
					d.Description,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"DEVICE", "NAME", "DETAIL"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	return cmd
}

type deviceView struct {
	Device string `json:"device"`
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

func deviceViews(list []devices.Device) []deviceView {
	views := make([]deviceView, 0, len(list))
	for _, d := range list {
		views = append(views, deviceView{
			Device: d.ALSAName(),
			Name:   d.Label(),
			Detail: d.Description,
		})
	}
	return views
}
