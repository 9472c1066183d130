package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rgbdapi/depth"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List depth model variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var rows [][]string
			for _, v := range depth.Variants() {
				installed := "no"
				if _, err := os.Stat(depth.CheckpointPath(cfg.CheckpointDir, v.ID)); err == nil {
					installed = "yes"
				}
				marker := ""
				if string(v.ID) == cfg.DefaultEncoder {
					marker = "*"
				}
				rows = append(rows, []string{string(v.ID) + marker, v.Name, v.Description, installed})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Name", "Description", "Installed"}, rows, nil))
			return nil
		},
	}
}
