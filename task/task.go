package task

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Encoder selects the depth model variant. Larger variants are slower and
// produce better depth.
type Encoder string

const (
	EncoderSmall Encoder = "vits"
	EncoderBase  Encoder = "vitb"
	EncoderLarge Encoder = "vitl"
)

var ErrInvalidEncoder = errors.New("invalid encoder")

// ParseEncoder accepts both the variant id ("vits") and the size name ("small").
func ParseEncoder(s string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vits", "small":
		return EncoderSmall, nil
	case "vitb", "base":
		return EncoderBase, nil
	case "vitl", "large":
		return EncoderLarge, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEncoder, s)
}

type Stage string

const (
	StageIdle            Stage = "idle"
	StageUploading       Stage = "uploading"
	StageReadingFrames   Stage = "reading_frames"
	StageExtractingAudio Stage = "extracting_audio"
	StageEstimatingDepth Stage = "estimating_depth"
	StageSavingSource    Stage = "saving_source"
	StageSavingDepth     Stage = "saving_depth"
	StageMergingRGBD     Stage = "merging_rgbd"
	StageComplete        Stage = "complete"
	StageFailed          Stage = "failed"
)

// Terminal reports whether no further transitions follow s within a job.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Unset caps use this value.
const NoLimit = -1

const (
	DefaultInputSize = 518
	DefaultMaxRes    = 1280
)

// Descriptor describes one conversion request. It is passed by value and
// never mutated after construction.
type Descriptor struct {
	InputPath string
	OutputDir string
	Encoder   Encoder
	InputSize int
	MaxRes    int
	MaxLen    int
	TargetFPS int
	FP32      bool
}

// NewDescriptor returns a descriptor with the default inference settings.
func NewDescriptor(inputPath, outputDir string) Descriptor {
	return Descriptor{
		InputPath: inputPath,
		OutputDir: outputDir,
		Encoder:   EncoderLarge,
		InputSize: DefaultInputSize,
		MaxRes:    DefaultMaxRes,
		MaxLen:    NoLimit,
		TargetFPS: NoLimit,
	}
}

// Stem is the input file name without its extension.
func (d Descriptor) Stem() string {
	base := filepath.Base(d.InputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (d Descriptor) artifact(suffix string) string {
	return filepath.Join(d.OutputDir, d.Stem()+suffix)
}

func (d Descriptor) SourcePath() string { return d.artifact("_src.mp4") }
func (d Descriptor) DepthPath() string  { return d.artifact("_depth.mp4") }
func (d Descriptor) AudioPath() string  { return d.artifact("_audio.aac") }
func (d Descriptor) RGBDPath() string   { return d.artifact("_rgbd.mp4") }

// Progress is one snapshot of the progress state. Progress is a fraction of
// the current stage, not of the whole job.
type Progress struct {
	Stage    Stage   `json:"stage"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// Result is the terminal outcome of a job. Paths are only set on success.
type Result struct {
	Success   bool   `json:"success"`
	SrcPath   string `json:"src_path,omitempty"`
	DepthPath string `json:"depth_path,omitempty"`
	RGBDPath  string `json:"rgbd_path,omitempty"`
	HasAudio  bool   `json:"has_audio"`
	Error     string `json:"error,omitempty"`
}

// StageError marks a fatal failure of one pipeline stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
