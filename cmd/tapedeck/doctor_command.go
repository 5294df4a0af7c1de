package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tapedeck/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for recording readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			results := preflight.RunAll(cfg)
			fmt.Fprintln(cmd.OutOrStdout(), renderChecks(results))
			if !preflight.AllPassed(results) {
				return fmt.Errorf("some checks failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All checks passed.")
			return nil
		},
	}
	return cmd
}

func renderChecks(results []preflight.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := "FAIL"
		if r.Passed {
			state = "ok"
		}
		rows = append(rows, []string{r.Name, state, r.Detail})
	}
	return renderTable(
		[]string{"CHECK", "RESULT", "DETAIL"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	)
}
