package task

import "context"

// Frame is one decoded picture, packed RGB24, rows top to bottom.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// DepthMap is one single-channel relative depth frame.
type DepthMap struct {
	Width  int
	Height int
	Values []float32
}

// ProgressFunc receives incremental progress from a long-running port call.
type ProgressFunc func(stage string, fraction float64, message string)

// FrameIO decodes and encodes video files.
type FrameIO interface {
	// ReadFrames decodes path into frames and returns the effective frame
	// rate after the length, rate and resolution caps are applied. A file
	// with no decodable frames is an error.
	ReadFrames(ctx context.Context, path string, maxLen, targetFPS, maxRes int) ([]Frame, float64, error)
	SaveVideo(ctx context.Context, frames []Frame, path string, fps float64) error
	// SaveDepthVideo normalizes depths to [0,255] with the min and max of
	// the whole sequence and writes them as three-channel grey frames.
	SaveDepthVideo(ctx context.Context, depths []DepthMap, path string, fps float64) error
}

// AudioIO never fails a job: any problem is reported as "no audio".
type AudioIO interface {
	HasAudio(ctx context.Context, path string) bool
	ExtractAudio(ctx context.Context, path, outputPath string) bool
}

type DepthEstimator interface {
	// LoadModel is a no-op when the variant is already resident on device.
	LoadModel(ctx context.Context, encoder Encoder, device string) error
	// Estimate fails when no model has been loaded.
	Estimate(ctx context.Context, frames []Frame, targetFPS float64, inputSize int, device string, fp32 bool, onProgress ProgressFunc) ([]DepthMap, float64, error)
}

type RGBDMerger interface {
	// Merge stacks src and depth horizontally. audioPath may be empty; when
	// set and present on disk it is muxed in and the output is cut to the
	// shortest stream.
	Merge(ctx context.Context, srcPath, depthPath, outputPath, audioPath string) error
}
