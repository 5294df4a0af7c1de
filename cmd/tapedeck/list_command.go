package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tapedeck/internal/session"
	"tapedeck/internal/store"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var (
		stateFlag string
		jsonFlag  bool
		limitFlag int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var states []session.State
			if stateFlag != "" {
				st := session.State(stateFlag)
				if !st.Valid() {
					return fmt.Errorf("unknown state %q", stateFlag)
				}
				states = append(states, st)
			}

			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				sessions, err := st.List(cmd.Context(), states...)
				if err != nil {
					return err
				}
				if limitFlag > 0 && len(sessions) > limitFlag {
					sessions = sessions[:limitFlag]
				}

				if jsonFlag {
					return writeJSON(cmd, listViews(sessions))
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
					return nil
				}

				rows := make([][]string, 0, len(sessions))
				for _, sess := range sessions {
					rows = append(rows, []string{
						sess.ID,
						stateColumn(sess),
						sess.Quality.Name,
						string(sess.Format),
						sess.StartedAt.Local().Format("2006-01-02 15:04:05"),
						sessionLength(sess),
						lastColumn(sess),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"SESSION", "STATE", "QUALITY", "FORMAT", "STARTED", "LENGTH", "OUTPUT / ERROR"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stateFlag, "state", "", "Filter by state (recording, stopping, merging, completed, failed)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of a table")
	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 0, "Show at most this many sessions")
	return cmd
}

type sessionView struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Quality   string    `json:"quality"`
	Format    string    `json:"format"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	Partial   bool      `json:"partial,omitempty"`
	Output    string    `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func listViews(sessions []*session.Session) []sessionView {
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView{
			ID:        sess.ID,
			State:     string(sess.State),
			Quality:   sess.Quality.Name,
			Format:    string(sess.Format),
			StartedAt: sess.StartedAt,
			StoppedAt: sess.StoppedAt,
			Partial:   sess.Partial,
			Output:    sess.Output,
			Error:     sess.Error,
		})
	}
	return views
}

func sessionLength(sess *session.Session) string {
	if sess.StoppedAt.IsZero() {
		return "-"
	}
	return sess.StoppedAt.Sub(sess.StartedAt).Round(time.Second).String()
}

// stateColumn marks degraded completions so a partial artifact is visible at
// a glance.
func stateColumn(sess *session.Session) string {
	if sess.Partial && sess.State == session.StateCompleted {
		return string(sess.State) + " (partial)"
	}
	return string(sess.State)
}

func lastColumn(sess *session.Session) string {
	if sess.Error != "" {
		return sess.Error
	}
	return sess.Output
}
