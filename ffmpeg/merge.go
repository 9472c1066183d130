package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Merger stacks the source and depth videos side by side.
type Merger struct {
	runner     *Runner
	encodeArgs []string
	logger     *slog.Logger
}

func NewMerger(runner *Runner, logger *slog.Logger) (*Merger, error) {
	extra, err := ParseEncodeArgs(runner.cfg.EncodeArgs)
	if err != nil {
		return nil, err
	}
	return &Merger{runner: runner, encodeArgs: extra, logger: logger}, nil
}

func (m *Merger) Merge(ctx context.Context, srcPath, depthPath, outputPath, audioPath string) error {
	if audioPath != "" {
		if _, err := os.Stat(audioPath); err != nil {
			m.logger.Warn("audio track missing, merging without audio", "path", audioPath)
			audioPath = ""
		}
	}

	args := mergeArgs(srcPath, depthPath, outputPath, audioPath, m.encodeArgs)
	if err := m.runner.FFmpeg(ctx, m.runner.cfg.MergeTimeout, nil, nil, args...); err != nil {
		return fmt.Errorf("ffmpeg merge failed: %w", err)
	}
	return nil
}

func mergeArgs(srcPath, depthPath, outputPath, audioPath string, extra []string) []string {
	args := []string{"-y", "-i", srcPath, "-i", depthPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args,
		"-filter_complex", "[0:v][1:v]hstack=inputs=2[v]",
		"-map", "[v]",
		"-c:v", "libx264")
	args = append(args, extra...)
	if audioPath != "" {
		args = append(args, "-map", "2:a", "-c:a", "aac", "-shortest")
	} else {
		args = append(args, "-an")
	}
	return append(args, outputPath)
}
