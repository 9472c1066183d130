package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe's JSON output the converter reads.
type ProbeResult struct {
	Streams []Stream    `json:"streams"`
	Format  ProbeFormat `json:"format"`
}

type Stream struct {
	Index        int        `json:"index"`
	CodecName    string     `json:"codec_name"`
	CodecType    string     `json:"codec_type"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	AvgFrameRate string     `json:"avg_frame_rate"`
	RFrameRate   string     `json:"r_frame_rate"`
	NbFrames     string     `json:"nb_frames"`
	Duration     string     `json:"duration"`
	SideData     []SideData `json:"side_data_list"`
	Tags         StreamTags `json:"tags"`
}

type SideData struct {
	Type     string  `json:"side_data_type"`
	Rotation float64 `json:"rotation"`
}

type StreamTags struct {
	Rotate string `json:"rotate"`
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// ParseProbe decodes ffprobe -print_format json output.
func ParseProbe(data []byte) (ProbeResult, error) {
	var res ProbeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return ProbeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return res, nil
}

// VideoStream returns the first video stream.
func (p ProbeResult) VideoStream() (Stream, bool) {
	for _, s := range p.Streams {
		if s.CodecType == "video" {
			return s, true
		}
	}
	return Stream{}, false
}

func (p ProbeResult) AudioStreamCount() int {
	n := 0
	for _, s := range p.Streams {
		if s.CodecType == "audio" {
			n++
		}
	}
	return n
}

// FrameRate prefers the average rate and falls back to the base rate.
func (s Stream) FrameRate() float64 {
	if fps := parseRate(s.AvgFrameRate); fps > 0 {
		return fps
	}
	return parseRate(s.RFrameRate)
}

// DisplaySize is the frame size after ffmpeg applies rotation metadata.
func (s Stream) DisplaySize() (int, int) {
	rot := 0.0
	for _, sd := range s.SideData {
		if sd.Rotation != 0 {
			rot = sd.Rotation
			break
		}
	}
	if rot == 0 && s.Tags.Rotate != "" {
		rot, _ = strconv.ParseFloat(s.Tags.Rotate, 64)
	}
	if q := int(math.Abs(rot)) % 180; q == 90 {
		return s.Height, s.Width
	}
	return s.Width, s.Height
}

func parseRate(v string) float64 {
	num, den, ok := strings.Cut(v, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Probe inspects every stream of path.
func (r *Runner) Probe(ctx context.Context, path string) (ProbeResult, error) {
	out, err := r.FFprobe(ctx, r.cfg.ProbeTimeout,
		"-v", "error", "-hide_banner", "-print_format", "json", "-show_format", "-show_streams", "--", path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseProbe(out)
}
