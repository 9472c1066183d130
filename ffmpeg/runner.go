package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"rgbdapi/config"
)

// CommandError describes a failed tool invocation.
type CommandError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// maxCapturedOutput bounds how much diagnostic output a failure carries.
const maxCapturedOutput = 16 << 10

// Runner executes ffmpeg and ffprobe with explicit argument lists.
type Runner struct {
	cfg     *config.Config
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	ffmpegPath, err := exec.LookPath(cfg.FFBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	ffprobePath, err := exec.LookPath(cfg.FFProbeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	r := &Runner{cfg: cfg, ffmpeg: ffmpegPath, ffprobe: ffprobePath, logger: logger}
	if ok, err := HasEncoder(context.Background(), ffmpegPath, "libx264"); err != nil || !ok {
		logger.Warn("ffmpeg build may lack libx264, encoding will fail", "ffmpeg", ffmpegPath, "error", err)
	}
	if st := checkVersion(context.Background(), ffmpegPath); !st.Available {
		logger.Warn("ffmpeg is too old, decoding will fail", "ffmpeg", ffmpegPath, "detail", st.Detail)
	}
	logger.Info("media tools resolved", "ffmpeg", ffmpegPath, "ffprobe", ffprobePath)
	return r, nil
}

// FFmpeg runs ffmpeg. stdin and stdout may be nil.
func (r *Runner) FFmpeg(ctx context.Context, timeout time.Duration, stdin io.Reader, stdout io.Writer, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-loglevel", "error"}, args...)
	if stdin != nil {
		// -nostdin would stop ffmpeg from reading piped frames.
		full = append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	}
	return r.run(ctx, timeout, r.ffmpeg, full, stdin, stdout)
}

// FFprobe runs ffprobe and returns its stdout.
func (r *Runner) FFprobe(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	var out bytes.Buffer
	if err := r.run(ctx, timeout, r.ffprobe, args, nil, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, bin string, args []string, stdin io.Reader, stdout io.Writer) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	var diag tailBuffer
	cmd.Stdin = stdin
	cmd.Stderr = &diag
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = &diag
	}

	started := time.Now()
	r.logger.Debug("executing", "cmd", bin, "args", strings.Join(args, " "))
	err := cmd.Run()
	if err == nil {
		r.logger.Debug("command finished", "cmd", bin, "elapsed", time.Since(started))
		return nil
	}

	cerr := &CommandError{Tool: toolName(bin), Args: args, ExitCode: -1, Output: diag.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cerr.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		cerr.Err = fmt.Errorf("timed out after %s", timeout)
	}
	return cerr
}

func toolName(bin string) string {
	name := bin
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, ".exe")
}

// tailBuffer keeps the last maxCapturedOutput bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - maxCapturedOutput; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
