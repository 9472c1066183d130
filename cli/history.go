package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rgbdapi/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.HistoryDB == "" {
				return errors.New("job history is disabled (HISTORY_DB is empty)")
			}
			store, err := history.Open(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHistory(records, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	return cmd
}

func renderHistory(records []history.Record, now time.Time) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		status := "ok"
		if !r.Success {
			status = "failed: " + r.Error
		}
		audio := "no"
		if r.HasAudio {
			audio = "yes"
		}
		rows = append(rows, []string{
			r.ID,
			r.Input,
			r.Encoder,
			humanize.RelTime(r.FinishedAt, now, "ago", "from now"),
			r.Duration().Round(time.Second).String(),
			audio,
			status,
		})
	}
	return renderTable(
		[]string{"ID", "Input", "Model", "Finished", "Took", "Audio", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}
