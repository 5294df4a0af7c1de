package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tapedeck/internal/devices"
	"tapedeck/internal/manager"
	"tapedeck/internal/preflight"
	"tapedeck/internal/session"
	"tapedeck/internal/store"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var (
		durationFlag time.Duration
		qualityFlag  string
		formatFlag   string
		loopbackFlag string
		micFlag      string
		jsonFlag     bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start a recording session",
		Long:  "Record system audio and microphone until the duration elapses,\nCtrl-C is pressed, or `tapedeck stop` is invoked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			if qualityFlag == "" {
				qualityFlag = cfg.Recording.Quality
			}
			quality, err := session.ParseQuality(qualityFlag)
			if err != nil {
				return err
			}
			if formatFlag == "" {
				formatFlag = cfg.Recording.Format
			}
			format, err := session.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			if loopbackFlag != "" {
				cfg.Capture.LoopbackDevice = loopbackFlag
			}
			if micFlag != "" {
				cfg.Capture.MicDevice = micFlag
			}
			if durationFlag < 0 {
				return fmt.Errorf("duration must not be negative")
			}
			maxDuration := time.Duration(cfg.Recording.MaxDurationSeconds) * time.Second
			if durationFlag > maxDuration {
				return fmt.Errorf("duration %s exceeds the configured maximum %s", durationFlag, maxDuration)
			}

			results := preflight.RunAll(cfg)
			if !preflight.AllPassed(results) {
				fmt.Fprintln(cmd.OutOrStdout(), renderChecks(results))
				return fmt.Errorf("environment not ready; see failed checks above (or run `tapedeck doctor`)")
			}

			return ctx.withStore(cmd.Context(), func(st *store.Store) error {
				engine, err := ctx.mergeEngine(logger)
				if err != nil {
					return err
				}
				mgr := manager.New(cfg, st, engine,
					manager.NewFFmpegFactory(cfg.Capture.FFmpegBinary),
					devices.NewMonitor(logger), logger)

				rec, err := mgr.Start(cmd.Context(), manager.Options{
					Quality: quality,
					Format:  format,
					Policy:  session.DurationPolicy{Fixed: durationFlag},
				})
				if err != nil {
					return err
				}

				if jsonFlag {
					ack := struct {
						SessionID string `json:"session_id"`
						Quality   string `json:"quality"`
						Format    string `json:"format"`
					}{rec.ID(), quality.Name, string(format)}
					if err := writeJSON(cmd, ack); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Recording %s (%s, %s)\n", rec.ID(), quality.Name, format)
					if durationFlag > 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "Stopping automatically after %s.\n", durationFlag)
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C or run `tapedeck stop` to finish.")
					}
				}

				interrupts := make(chan os.Signal, 1)
				signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(interrupts)
				go func() {
					if _, ok := <-interrupts; ok {
						if !jsonFlag {
							fmt.Fprintln(cmd.OutOrStdout(), "Stopping...")
						}
						rec.Stop()
					}
				}()

				output, err := rec.Wait(cmd.Context())
				if err != nil {
					return err
				}
				if jsonFlag {
					return writeJSON(cmd, struct {
						SessionID string `json:"session_id"`
						Output    string `json:"output"`
					}{rec.ID(), output})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", output)
				return nil
			})
		},
	}

	cmd.Flags().DurationVarP(&durationFlag, "duration", "d", 0, "Fixed recording length (0 means record until stopped)")
	cmd.Flags().StringVarP(&qualityFlag, "quality", "q", "", "Quality preset: quick, standard, professional, high")
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Output format: wav or m4a")
	cmd.Flags().StringVar(&loopbackFlag, "loopback", "", "Loopback (system audio) capture device")
	cmd.Flags().StringVar(&micFlag, "mic", "", "Microphone capture device")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of progress text")

	return cmd
}
