package ffmpeg

import (
	"context"
	"log/slog"
	"os"
)

// AudioService probes and extracts audio tracks. Failures are logged and
// reported as "no audio" so a silent RGBD video can still be produced.
type AudioService struct {
	runner *Runner
	logger *slog.Logger
}

func NewAudioService(runner *Runner, logger *slog.Logger) *AudioService {
	return &AudioService{runner: runner, logger: logger}
}

func (s *AudioService) HasAudio(ctx context.Context, path string) bool {
	out, err := s.runner.FFprobe(ctx, s.runner.cfg.ProbeTimeout,
		"-v", "quiet", "-print_format", "json", "-show_streams", "-select_streams", "a", "--", path)
	if err != nil {
		s.logger.Warn("audio probe failed", "path", path, "error", err)
		return false
	}
	res, err := ParseProbe(out)
	if err != nil {
		s.logger.Warn("audio probe unreadable", "path", path, "error", err)
		return false
	}
	return res.AudioStreamCount() > 0
}

func (s *AudioService) ExtractAudio(ctx context.Context, path, outputPath string) bool {
	err := s.runner.FFmpeg(ctx, s.runner.cfg.ExtractTimeout, nil, nil,
		"-y", "-i", path, "-vn", "-acodec", "aac", "-b:a", "192k", outputPath)
	if err != nil {
		s.logger.Warn("audio extraction failed", "path", path, "error", err)
		return false
	}
	if _, err := os.Stat(outputPath); err != nil {
		s.logger.Warn("audio extraction produced no file", "path", outputPath)
		return false
	}
	return true
}
