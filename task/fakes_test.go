package task

import (
	"context"
	"errors"
	"sync"
)

// call log shared by all fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockFrames struct {
	log       *callLog
	readFunc  func(ctx context.Context, path string, maxLen, targetFPS, maxRes int) ([]Frame, float64, error)
	saveFunc  func(ctx context.Context, frames []Frame, path string, fps float64) error
	depthFunc func(ctx context.Context, depths []DepthMap, path string, fps float64) error
}

func (m *mockFrames) ReadFrames(ctx context.Context, path string, maxLen, targetFPS, maxRes int) ([]Frame, float64, error) {
	m.log.add("read_frames")
	if m.readFunc != nil {
		return m.readFunc(ctx, path, maxLen, targetFPS, maxRes)
	}
	frames := []Frame{
		{Width: 2, Height: 1, Pix: make([]byte, 6)},
		{Width: 2, Height: 1, Pix: make([]byte, 6)},
	}
	return frames, 10, nil
}

func (m *mockFrames) SaveVideo(ctx context.Context, frames []Frame, path string, fps float64) error {
	m.log.add("save_video")
	if m.saveFunc != nil {
		return m.saveFunc(ctx, frames, path, fps)
	}
	return nil
}

func (m *mockFrames) SaveDepthVideo(ctx context.Context, depths []DepthMap, path string, fps float64) error {
	m.log.add("save_depth_video")
	if m.depthFunc != nil {
		return m.depthFunc(ctx, depths, path, fps)
	}
	return nil
}

type mockAudio struct {
	log      *callLog
	present  bool
	extracts bool
}

func (m *mockAudio) HasAudio(ctx context.Context, path string) bool {
	m.log.add("has_audio")
	return m.present
}

func (m *mockAudio) ExtractAudio(ctx context.Context, path, outputPath string) bool {
	m.log.add("extract_audio")
	return m.extracts
}

var errNotLoaded = errors.New("model not loaded")

// mockDepth mirrors the real estimator's contract: Estimate fails until
// LoadModel has succeeded.
type mockDepth struct {
	log          *callLog
	loaded       bool
	loadErr      error
	skipLoad     bool
	estimateFunc func(frames []Frame, onProgress ProgressFunc) ([]DepthMap, error)
}

func (m *mockDepth) LoadModel(ctx context.Context, encoder Encoder, device string) error {
	m.log.add("load_model")
	if m.loadErr != nil {
		return m.loadErr
	}
	if !m.skipLoad {
		m.loaded = true
	}
	return nil
}

func (m *mockDepth) Estimate(ctx context.Context, frames []Frame, targetFPS float64, inputSize int, device string, fp32 bool, onProgress ProgressFunc) ([]DepthMap, float64, error) {
	m.log.add("estimate")
	if !m.loaded {
		return nil, 0, errNotLoaded
	}
	if m.estimateFunc != nil {
		depths, err := m.estimateFunc(frames, onProgress)
		return depths, targetFPS, err
	}
	depths := make([]DepthMap, len(frames))
	for i, f := range frames {
		depths[i] = DepthMap{Width: f.Width, Height: f.Height, Values: make([]float32, f.Width*f.Height)}
		onProgress("estimating_depth", float64(i+1)/float64(len(frames)), "window")
	}
	return depths, targetFPS, nil
}

type mockMerger struct {
	log       *callLog
	audioPath string
	mergeFunc func() error
}

func (m *mockMerger) Merge(ctx context.Context, srcPath, depthPath, outputPath, audioPath string) error {
	m.log.add("merge")
	m.audioPath = audioPath
	if m.mergeFunc != nil {
		return m.mergeFunc()
	}
	return nil
}

type fakes struct {
	log    *callLog
	frames *mockFrames
	audio  *mockAudio
	depth  *mockDepth
	merger *mockMerger
}

func newFakes() *fakes {
	log := &callLog{}
	return &fakes{
		log:    log,
		frames: &mockFrames{log: log},
		audio:  &mockAudio{log: log, present: true, extracts: true},
		depth:  &mockDepth{log: log},
		merger: &mockMerger{log: log},
	}
}

func (f *fakes) pipeline(state *State) *Pipeline {
	return NewPipeline(f.frames, f.audio, f.depth, f.merger, state, "cpu")
}
