// Package cli holds the rgbdapi command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"rgbdapi/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	logger      *slog.Logger
	closeLogger func() error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadFile(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger, c.closeLogger = config.SetupLogger(cfg)
		slog.SetDefault(c.logger)
	})
	return c.config, c.configErr
}

func (c *commandContext) isDebug() bool {
	return c.config != nil && config.ParseLogLevel(c.config.LogLevel) <= slog.LevelDebug
}

func (c *commandContext) close() {
	if c.closeLogger != nil {
		_ = c.closeLogger()
	}
}

func newRootCommand() (*cobra.Command, *commandContext) {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "rgbdapi",
		Short:         "Convert videos into side-by-side RGB + depth videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	serveCmd := newServeCommand(ctx)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newModelsCommand(ctx))
	return rootCmd, ctx
}

// Execute runs the command tree; with no subcommand it serves the API.
func Execute() int {
	cmd, ctx := newRootCommand()
	defer ctx.close()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}
