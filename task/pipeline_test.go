package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(t *testing.T) Descriptor {
	t.Helper()
	d := NewDescriptor(filepath.Join(t.TempDir(), "clip.mp4"), filepath.Join(t.TempDir(), "out"))
	d.Encoder = EncoderSmall
	return d
}

func TestPipelineProcessSuccess(t *testing.T) {
	f := newFakes()
	state := NewState()
	var observed []Stage
	p := NewPipeline(f.frames, f.audio, f.depth, f.merger, state, "cpu",
		WithStageObserver(func(s Stage, _ time.Duration) { observed = append(observed, s) }))
	d := testDescriptor(t)

	res := p.Process(context.Background(), d)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, d.SourcePath(), res.SrcPath)
	assert.Equal(t, d.DepthPath(), res.DepthPath)
	assert.Equal(t, d.RGBDPath(), res.RGBDPath)
	assert.True(t, res.HasAudio)
	assert.Empty(t, res.Error)

	assert.Equal(t, []string{
		"has_audio", "extract_audio", "read_frames", "load_model", "estimate",
		"save_video", "save_depth_video", "merge",
	}, f.log.list())
	assert.Equal(t, d.AudioPath(), f.merger.audioPath)
	assert.Equal(t, Progress{Stage: StageComplete, Progress: 1, Message: "Processing complete!"}, state.Snapshot())
	assert.Equal(t, []Stage{
		StageExtractingAudio, StageReadingFrames, StageEstimatingDepth,
		StageSavingSource, StageSavingDepth, StageMergingRGBD,
	}, observed)

	info, err := os.Stat(d.OutputDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPipelineAudioDegradesToSilent(t *testing.T) {
	t.Run("no audio stream", func(t *testing.T) {
		f := newFakes()
		f.audio.present = false
		res := f.pipeline(NewState()).Process(context.Background(), testDescriptor(t))

		require.True(t, res.Success)
		assert.False(t, res.HasAudio)
		assert.Empty(t, f.merger.audioPath)
		assert.NotContains(t, f.log.list(), "extract_audio")
		assert.Contains(t, f.log.list(), "merge")
	})

	t.Run("extraction fails", func(t *testing.T) {
		f := newFakes()
		f.audio.extracts = false
		res := f.pipeline(NewState()).Process(context.Background(), testDescriptor(t))

		require.True(t, res.Success)
		assert.False(t, res.HasAudio)
		assert.Empty(t, f.merger.audioPath)
		assert.Contains(t, f.log.list(), "save_depth_video")
	})
}

func TestPipelineEstimateWithoutLoadFails(t *testing.T) {
	f := newFakes()
	f.depth.skipLoad = true
	state := NewState()

	res := f.pipeline(state).Process(context.Background(), testDescriptor(t))

	assert.False(t, res.Success)
	assert.Equal(t, "model not loaded", res.Error)
	assert.Empty(t, res.RGBDPath)
	assert.Equal(t, Progress{Stage: StageFailed, Progress: 0, Message: "model not loaded"}, state.Snapshot())
	assert.NotContains(t, f.log.list(), "save_video")
	assert.NotContains(t, f.log.list(), "merge")
}

func TestPipelineFatalStagesShortCircuit(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name     string
		setup    func(f *fakes)
		lastCall string
	}{
		{
			name: "read frames",
			setup: func(f *fakes) {
				f.frames.readFunc = func(context.Context, string, int, int, int) ([]Frame, float64, error) {
					return nil, 0, boom
				}
			},
			lastCall: "read_frames",
		},
		{
			name:     "load model",
			setup:    func(f *fakes) { f.depth.loadErr = boom },
			lastCall: "load_model",
		},
		{
			name: "estimate",
			setup: func(f *fakes) {
				f.depth.estimateFunc = func([]Frame, ProgressFunc) ([]DepthMap, error) { return nil, boom }
			},
			lastCall: "estimate",
		},
		{
			name: "save source",
			setup: func(f *fakes) {
				f.frames.saveFunc = func(context.Context, []Frame, string, float64) error { return boom }
			},
			lastCall: "save_video",
		},
		{
			name: "save depth",
			setup: func(f *fakes) {
				f.frames.depthFunc = func(context.Context, []DepthMap, string, float64) error { return boom }
			},
			lastCall: "save_depth_video",
		},
		{
			name:     "merge",
			setup:    func(f *fakes) { f.merger.mergeFunc = func() error { return boom } },
			lastCall: "merge",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakes()
			tc.setup(f)
			state := NewState()

			res := f.pipeline(state).Process(context.Background(), testDescriptor(t))

			assert.False(t, res.Success)
			assert.Equal(t, "boom", res.Error)
			calls := f.log.list()
			assert.Equal(t, tc.lastCall, calls[len(calls)-1])
			snap := state.Snapshot()
			assert.Equal(t, StageFailed, snap.Stage)
			assert.Equal(t, "boom", snap.Message)
		})
	}
}

func TestPipelineEmptyDepthIsFatal(t *testing.T) {
	f := newFakes()
	f.depth.estimateFunc = func([]Frame, ProgressFunc) ([]DepthMap, error) { return nil, nil }

	res := f.pipeline(NewState()).Process(context.Background(), testDescriptor(t))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no frames")
}

func TestPipelineRecoversFromPanics(t *testing.T) {
	f := newFakes()
	f.merger.mergeFunc = func() error { panic("nil pointer in merge tool") }
	state := NewState()

	res := f.pipeline(state).Process(context.Background(), testDescriptor(t))

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "nil pointer in merge tool")
	assert.Equal(t, StageFailed, state.Snapshot().Stage)
}

func TestPipelineReportsStageProgress(t *testing.T) {
	f := newFakes()
	state := NewState()
	var seen []Progress

	f.frames.readFunc = func(context.Context, string, int, int, int) ([]Frame, float64, error) {
		seen = append(seen, state.Snapshot())
		return []Frame{{Width: 1, Height: 1, Pix: make([]byte, 3)}}, 24, nil
	}
	f.depth.estimateFunc = func(frames []Frame, onProgress ProgressFunc) ([]DepthMap, error) {
		seen = append(seen, state.Snapshot())
		for i := 1; i <= 4; i++ {
			onProgress("estimating_depth", float64(i)/4, "Processing window")
			seen = append(seen, state.Snapshot())
		}
		return []DepthMap{{Width: 1, Height: 1, Values: []float32{1}}}, nil
	}
	f.merger.mergeFunc = func() error {
		seen = append(seen, state.Snapshot())
		return nil
	}

	res := f.pipeline(state).Process(context.Background(), testDescriptor(t))
	require.True(t, res.Success)

	assert.Equal(t, Progress{Stage: StageReadingFrames, Message: "Reading video frames..."}, seen[0])
	assert.Equal(t, Progress{Stage: StageEstimatingDepth, Message: "Loading depth model..."}, seen[1])
	last := 0.0
	for _, snap := range seen[2:6] {
		assert.Equal(t, StageEstimatingDepth, snap.Stage)
		assert.GreaterOrEqual(t, snap.Progress, last)
		last = snap.Progress
	}
	assert.Equal(t, 1.0, last)
	assert.Equal(t, Progress{Stage: StageMergingRGBD, Message: "Merging RGBD video..."}, seen[6])
}
