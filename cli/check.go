package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rgbdapi/config"
	"rgbdapi/depth"
	"rgbdapi/ffmpeg"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify media tools, model checkpoints and the inference device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var rows [][]string
			missing := 0
			for _, st := range ffmpeg.CheckTools(cmd.Context(), cfg) {
				if !st.Available {
					missing++
				}
				rows = append(rows, []string{st.Name, availability(st.Available), firstNonEmpty(st.Path, st.Command), st.Detail})
			}

			anyCheckpoint := false
			for _, row := range checkpointRows(cfg) {
				if row[1] == "ok" {
					anyCheckpoint = true
				}
				rows = append(rows, row)
			}
			if !anyCheckpoint {
				missing++
			}

			rows = append(rows, []string{"device", "ok", depth.ResolveDevice(cfg.Device), "DEVICE=" + cfg.Device})
			rows = append(rows, []string{"depth worker", "-", cfg.DepthWorker, "started on first job"})

			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Component", "Status", "Location", "Detail"}, rows, nil))
			if missing > 0 {
				return fmt.Errorf("%d required component(s) missing", missing)
			}
			return nil
		},
	}
}

func checkpointRows(cfg *config.Config) [][]string {
	var rows [][]string
	for _, v := range depth.Variants() {
		path := depth.CheckpointPath(cfg.CheckpointDir, v.ID)
		info, err := os.Stat(path)
		if err != nil {
			rows = append(rows, []string{"checkpoint " + string(v.ID), "missing", path, v.Name})
			continue
		}
		rows = append(rows, []string{"checkpoint " + string(v.ID), "ok", path, humanize.Bytes(uint64(info.Size()))})
	}
	return rows
}

func availability(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
