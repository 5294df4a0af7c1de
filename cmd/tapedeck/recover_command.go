package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tapedeck/internal/recovery"
	"tapedeck/internal/session"
	"tapedeck/internal/store"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonFlag   bool
		formatFlag string
	)

	cmd := &cobra.Command{
		Use:   "recover [session-id]",
		Short: "Salvage sessions interrupted by a crash",
		Long:  "Scan for leftover temp streams and unfinished registry entries.\nStreams with audio are merged into normal artifacts; empty leftovers\nare removed. Safe to run repeatedly.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				engine, err := ctx.mergeEngine(logger)
				if err != nil {
					return err
				}
				scanner := recovery.NewScanner(cfg, st, engine, logger)
				if len(args) == 1 {
					if !session.ValidID(args[0]) {
						return fmt.Errorf("%q is not a session id", args[0])
					}
					scanner.SetTarget(args[0])
				}
				if formatFlag != "" {
					format, err := session.ParseFormat(formatFlag)
					if err != nil {
						return err
					}
					scanner.SetFormat(format)
				}
				report, runErr := scanner.Run(cmd.Context())

				if jsonFlag {
					if err := writeJSON(cmd, recoveryViews(report)); err != nil {
						return err
					}
					return runErr
				}

				if len(report.Outcomes) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to recover.")
					return runErr
				}
				rows := make([][]string, 0, len(report.Outcomes))
				for _, outcome := range report.Outcomes {
					rows = append(rows, []string{
						outcome.SessionID,
						outcomeLabel(outcome),
						outcomeDetail(outcome),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"SESSION", "RESULT", "DETAIL"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
				fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d, failed %d.\n",
					report.Recovered(), report.Failed())
				return runErr
			})
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Force salvaged artifacts into this format: wav or m4a")
	return cmd
}

type recoveryView struct {
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	Output    string `json:"output,omitempty"`
	Partial   bool   `json:"partial,omitempty"`
	Error     string `json:"error,omitempty"`
}

func recoveryViews(report recovery.Report) []recoveryView {
	views := make([]recoveryView, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		view := recoveryView{
			SessionID: outcome.SessionID,
			Result:    outcomeLabel(outcome),
			Output:    outcome.Output,
			Partial:   outcome.Partial,
		}
		if outcome.Err != nil {
			view.Error = outcome.Err.Error()
		}
		views = append(views, view)
	}
	return views
}

func outcomeLabel(outcome recovery.Outcome) string {
	switch {
	case outcome.Err != nil:
		return "failed"
	case outcome.Discarded:
		return "discarded"
	case outcome.Partial:
		return "partial"
	default:
		return "recovered"
	}
}

func outcomeDetail(outcome recovery.Outcome) string {
	switch {
	case outcome.Err != nil:
		return outcome.Err.Error()
	case outcome.Discarded:
		return "no audio captured"
	default:
		return outcome.Output
	}
}
