package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"rgbdapi/task"
)

type convertOptions struct {
	outputDir string
	encoder   string
	inputSize int
	maxRes    int
	maxLen    int
	targetFPS int
	fp32      bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert <video>",
		Short: "Convert one video without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("input video: %w", err)
			}
			encoder := opts.encoder
			if encoder == "" {
				encoder = cfg.DefaultEncoder
			}
			enc, err := task.ParseEncoder(encoder)
			if err != nil {
				return err
			}
			outDir := opts.outputDir
			if outDir == "" {
				outDir = cfg.OutputDir
			}

			d := task.NewDescriptor(args[0], outDir)
			d.Encoder = enc
			d.InputSize = opts.inputSize
			d.MaxRes = opts.maxRes
			d.MaxLen = opts.maxLen
			d.TargetFPS = opts.targetFPS
			d.FP32 = opts.fp32

			a, err := buildApp(cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.ErrOrStderr()
			stopRender := renderProgress(cmd.Context(), out, a.manager.Progress, cfg.ProgressInterval)
			job, err := a.manager.Run(cmd.Context(), d)
			stopRender()
			if err != nil {
				return err
			}
			if !job.Result.Success {
				return fmt.Errorf("conversion failed: %s", job.Result.Error)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", job.Result.RGBDPath)
			if !job.Result.HasAudio {
				fmt.Fprintln(out, "note: output has no audio track")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outputDir, "output", "o", "", "Output directory (default OUTPUT_DIR)")
	flags.StringVarP(&opts.encoder, "encoder", "e", "", "Model variant: vits, vitb or vitl (default DEFAULT_ENCODER)")
	flags.IntVar(&opts.inputSize, "input-size", task.DefaultInputSize, "Network input size")
	flags.IntVar(&opts.maxRes, "max-res", task.DefaultMaxRes, "Longest frame side after downscaling")
	flags.IntVar(&opts.maxLen, "max-len", task.NoLimit, "Maximum number of frames, -1 for all")
	flags.IntVar(&opts.targetFPS, "target-fps", task.NoLimit, "Output frame rate, -1 keeps the source rate")
	flags.BoolVar(&opts.fp32, "fp32", false, "Run inference in full precision")
	return cmd
}

// renderProgress polls snapshot until the returned stop func is called.
// Terminals get a single rewritten line, other writers one line per change.
func renderProgress(ctx context.Context, w io.Writer, snapshot func() task.Progress, interval time.Duration) func() {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	tty := isTerminal(w)
	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last task.Progress
		for {
			snap := snapshot()
			if snap != last && snap.Stage != task.StageIdle {
				line := formatProgress(snap)
				if tty {
					fmt.Fprintf(w, "\r\033[K%s", line)
				} else if snap.Stage != last.Stage || snap.Stage.Terminal() {
					fmt.Fprintln(w, line)
				}
				last = snap
			}
			select {
			case <-done:
				if tty && last.Stage != "" {
					fmt.Fprintf(w, "\r\033[K%s\n", formatProgress(snapshot()))
				}
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func formatProgress(p task.Progress) string {
	const width = 20
	filled := int(p.Progress * width)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
	return fmt.Sprintf("%-17s [%s] %3.0f%% %s", p.Stage, bar, p.Progress*100, p.Message)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
