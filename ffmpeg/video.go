package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"rgbdapi/task"
)

// VideoService decodes and encodes frames through rawvideo rgb24 pipes.
type VideoService struct {
	runner     *Runner
	encodeArgs []string
	logger     *slog.Logger
}

func NewVideoService(runner *Runner, logger *slog.Logger) (*VideoService, error) {
	extra, err := ParseEncodeArgs(runner.cfg.EncodeArgs)
	if err != nil {
		return nil, err
	}
	return &VideoService{runner: runner, encodeArgs: extra, logger: logger}, nil
}

func (s *VideoService) ReadFrames(ctx context.Context, path string, maxLen, targetFPS, maxRes int) ([]task.Frame, float64, error) {
	info, err := s.runner.Probe(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	stream, ok := info.VideoStream()
	if !ok {
		return nil, 0, fmt.Errorf("%s has no video stream", path)
	}
	srcFPS := stream.FrameRate()
	if srcFPS <= 0 {
		return nil, 0, fmt.Errorf("%s reports no usable frame rate", path)
	}
	srcW, srcH := stream.DisplaySize()
	if srcW <= 0 || srcH <= 0 {
		return nil, 0, fmt.Errorf("%s reports no frame size", path)
	}

	plan := planDecode(srcW, srcH, srcFPS, maxLen, targetFPS, maxRes)
	collector := &frameCollector{width: plan.width, height: plan.height}
	if err := s.runner.FFmpeg(ctx, s.runner.cfg.FFTimeout, nil, collector, plan.args(path)...); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(collector.frames) == 0 {
		return nil, 0, fmt.Errorf("%s contains no decodable frames", path)
	}

	s.logger.Debug("frames decoded", "path", path, "count", len(collector.frames),
		"width", plan.width, "height", plan.height, "stride", plan.stride, "fps", plan.fps)
	return collector.frames, plan.fps, nil
}

func (s *VideoService) SaveVideo(ctx context.Context, frames []task.Frame, path string, fps float64) error {
	return s.encode(ctx, frames, path, fps)
}

func (s *VideoService) SaveDepthVideo(ctx context.Context, depths []task.DepthMap, path string, fps float64) error {
	return s.encode(ctx, NormalizeDepths(depths), path, fps)
}

func (s *VideoService) encode(ctx context.Context, frames []task.Frame, path string, fps float64) error {
	if len(frames) == 0 {
		return errors.New("no frames to encode")
	}
	w, h := frames[0].Width, frames[0].Height
	readers := make([]io.Reader, len(frames))
	for i, f := range frames {
		if f.Width != w || f.Height != h || len(f.Pix) != w*h*3 {
			return fmt.Errorf("frame %d is %dx%d with %d bytes, want %dx%d", i, f.Width, f.Height, len(f.Pix), w, h)
		}
		readers[i] = bytes.NewReader(f.Pix)
	}

	args := encodeArgs(w, h, fps, path, s.encodeArgs)
	if err := s.runner.FFmpeg(ctx, s.runner.cfg.FFTimeout, io.MultiReader(readers...), nil, args...); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// encodeArgs pads odd dimensions to even since yuv420p requires it.
func encodeArgs(w, h int, fps float64, out string, extra []string) []string {
	args := []string{
		"-y",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
	}
	args = append(args, extra...)
	return append(args, "-pix_fmt", "yuv420p", out)
}

type decodePlan struct {
	width, height int
	stride        int
	fps           float64
	maxLen        int
}

func planDecode(srcW, srcH int, srcFPS float64, maxLen, targetFPS, maxRes int) decodePlan {
	w, h := scaledSize(srcW, srcH, maxRes)
	fps := srcFPS
	if targetFPS > 0 {
		fps = float64(targetFPS)
	}
	return decodePlan{width: w, height: h, stride: frameStride(srcFPS, fps), fps: fps, maxLen: maxLen}
}

func (p decodePlan) args(path string) []string {
	var filters []string
	if p.stride > 1 {
		filters = append(filters, fmt.Sprintf(`select=not(mod(n\,%d))`, p.stride))
	}
	filters = append(filters, fmt.Sprintf("scale=%d:%d:flags=area", p.width, p.height))

	args := []string{"-i", path, "-an", "-sn", "-vf", strings.Join(filters, ","), "-fps_mode", "passthrough"}
	if p.maxLen > 0 {
		args = append(args, "-frames:v", strconv.Itoa(p.maxLen))
	}
	return append(args, "-f", "rawvideo", "-pix_fmt", "rgb24", "pipe:1")
}

// scaledSize shrinks the longer side to maxRes, keeping the aspect ratio.
func scaledSize(w, h, maxRes int) (int, int) {
	longest := max(w, h)
	if maxRes <= 0 || longest <= maxRes {
		return w, h
	}
	scale := float64(maxRes) / float64(longest)
	return max(int(math.Round(float64(w)*scale)), 1), max(int(math.Round(float64(h)*scale)), 1)
}

// frameStride keeps every Nth source frame to approximate the target rate.
func frameStride(srcFPS, targetFPS float64) int {
	if targetFPS <= 0 {
		return 1
	}
	return max(int(math.Round(srcFPS/targetFPS)), 1)
}

// frameCollector slices a raw rgb24 byte stream into frames.
type frameCollector struct {
	width, height int
	frames        []task.Frame
	cur           []byte
}

func (c *frameCollector) Write(p []byte) (int, error) {
	n := len(p)
	size := c.width * c.height * 3
	for len(p) > 0 {
		if c.cur == nil {
			c.cur = make([]byte, 0, size)
		}
		k := min(size-len(c.cur), len(p))
		c.cur = append(c.cur, p[:k]...)
		p = p[k:]
		if len(c.cur) == size {
			c.frames = append(c.frames, task.Frame{Width: c.width, Height: c.height, Pix: c.cur})
			c.cur = nil
		}
	}
	return n, nil
}
