package depth

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgbdapi/task"
)

type mockSession struct {
	inferFunc func(frames []task.Frame) ([]task.DepthMap, error)
	calls     int
	closed    bool
}

func (m *mockSession) Infer(ctx context.Context, frames []task.Frame, fp32 bool) ([]task.DepthMap, error) {
	m.calls++
	if m.inferFunc != nil {
		return m.inferFunc(frames)
	}
	return brightness(frames, 1, 0), nil
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

type mockBackend struct {
	opened   []ModelSpec
	sessions []*mockSession
	openErr  error
	newFunc  func() *mockSession
}

func (m *mockBackend) Open(ctx context.Context, spec ModelSpec) (Session, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	m.opened = append(m.opened, spec)
	s := &mockSession{}
	if m.newFunc != nil {
		s = m.newFunc()
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

// brightness maps the red channel through s*r+b.
func brightness(frames []task.Frame, s, b float32) []task.DepthMap {
	out := make([]task.DepthMap, len(frames))
	for i, f := range frames {
		vals := make([]float32, f.Width*f.Height)
		for p := range vals {
			vals[p] = s*float32(f.Pix[p*3]) + b
		}
		out[i] = task.DepthMap{Width: f.Width, Height: f.Height, Values: vals}
	}
	return out
}

func checkpointDir(t *testing.T, encoders ...task.Encoder) string {
	t.Helper()
	dir := t.TempDir()
	for _, enc := range encoders {
		require.NoError(t, os.WriteFile(CheckpointPath(dir, enc), []byte("weights"), 0o644))
	}
	return dir
}

func solidFrames(n, w, h int) []task.Frame {
	frames := make([]task.Frame, n)
	for i := range frames {
		pix := make([]byte, w*h*3)
		for p := range pix {
			pix[p] = byte(10 * (i + 1))
		}
		frames[i] = task.Frame{Width: w, Height: h, Pix: pix}
	}
	return frames
}

func TestEstimatorLoadModel(t *testing.T) {
	t.Run("missing checkpoint", func(t *testing.T) {
		backend := &mockBackend{}
		e := NewEstimator(backend, t.TempDir())
		err := e.LoadModel(context.Background(), task.EncoderLarge, "cpu")
		assert.ErrorContains(t, err, "video_depth_anything_vitl.pth")
		assert.Empty(t, backend.opened)
	})

	t.Run("unknown encoder", func(t *testing.T) {
		e := NewEstimator(&mockBackend{}, t.TempDir())
		err := e.LoadModel(context.Background(), "vitg", "cpu")
		assert.ErrorIs(t, err, task.ErrInvalidEncoder)
	})

	t.Run("same variant is a no-op", func(t *testing.T) {
		backend := &mockBackend{}
		e := NewEstimator(backend, checkpointDir(t, task.EncoderSmall))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))
		require.Len(t, backend.opened, 1)
		assert.Equal(t, 64, backend.opened[0].Variant.Features)

		spec, ok := e.resident()
		assert.True(t, ok)
		assert.Equal(t, "cpu", spec.Device)
	})

	t.Run("switching variant closes the old worker", func(t *testing.T) {
		backend := &mockBackend{}
		e := NewEstimator(backend, checkpointDir(t, task.EncoderSmall, task.EncoderLarge))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderLarge, "cpu"))
		require.Len(t, backend.sessions, 2)
		assert.True(t, backend.sessions[0].closed)
		assert.False(t, backend.sessions[1].closed)

		require.NoError(t, e.Close())
		assert.True(t, backend.sessions[1].closed)
		_, ok := e.resident()
		assert.False(t, ok)
	})

	t.Run("backend failure leaves nothing loaded", func(t *testing.T) {
		backend := &mockBackend{openErr: errors.New("CUDA out of memory")}
		e := NewEstimator(backend, checkpointDir(t, task.EncoderBase))
		err := e.LoadModel(context.Background(), task.EncoderBase, "cuda")
		assert.ErrorContains(t, err, "CUDA out of memory")
		_, _, err = e.Estimate(context.Background(), solidFrames(1, 4, 4), 30, 518, "cuda", false, nil)
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})
}

func TestEstimatorEstimate(t *testing.T) {
	t.Run("requires a loaded model", func(t *testing.T) {
		e := NewEstimator(&mockBackend{}, t.TempDir())
		_, _, err := e.Estimate(context.Background(), solidFrames(2, 4, 4), 30, 518, "cpu", false, nil)
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})

	t.Run("windows, progress and frame size", func(t *testing.T) {
		backend := &mockBackend{}
		e := NewEstimator(backend, checkpointDir(t, task.EncoderSmall), WithWindow(4, 2))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))

		var messages []string
		var fractions []float64
		frames := solidFrames(8, 6, 4)
		depths, fps, err := e.Estimate(context.Background(), frames, 12.5, 28, "cpu", false,
			func(stage string, fraction float64, message string) {
				assert.Equal(t, "estimating_depth", stage)
				fractions = append(fractions, fraction)
				messages = append(messages, message)
			})
		require.NoError(t, err)
		assert.Equal(t, 12.5, fps)
		require.Len(t, depths, 8)
		for _, d := range depths {
			assert.Equal(t, 6, d.Width)
			assert.Equal(t, 4, d.Height)
		}
		assert.Equal(t, []string{"Processing window 1/3", "Processing window 2/3", "Processing window 3/3"}, messages)
		assert.InDeltaSlice(t, []float64{1.0 / 3, 2.0 / 3, 1}, fractions, 1e-9)
		assert.Equal(t, 3, backend.sessions[0].calls)
	})

	t.Run("windows are aligned to each other", func(t *testing.T) {
		window := 0
		backend := &mockBackend{newFunc: func() *mockSession {
			return &mockSession{inferFunc: func(frames []task.Frame) ([]task.DepthMap, error) {
				// Each window comes back at a different scale and shift.
				window++
				return brightness(frames, float32(window), float32(3*window)), nil
			}}
		}}
		e := NewEstimator(backend, checkpointDir(t, task.EncoderSmall), WithWindow(4, 2))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))

		frames := solidFrames(8, 14, 14)
		depths, _, err := e.Estimate(context.Background(), frames, 30, 14, "cpu", false, nil)
		require.NoError(t, err)
		for i, d := range depths {
			// First window: 1*r + 3.
			want := float32(10*(i+1)) + 3
			assert.InDelta(t, want, d.Values[len(d.Values)/2], 0.05, "frame %d", i)
		}
	})

	t.Run("inference failure", func(t *testing.T) {
		backend := &mockBackend{newFunc: func() *mockSession {
			return &mockSession{inferFunc: func([]task.Frame) ([]task.DepthMap, error) {
				return nil, errors.New("worker crashed")
			}}
		}}
		e := NewEstimator(backend, checkpointDir(t, task.EncoderSmall))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))
		_, _, err := e.Estimate(context.Background(), solidFrames(2, 4, 4), 30, 518, "cpu", false, nil)
		assert.ErrorContains(t, err, "worker crashed")
	})

	t.Run("cancelled context", func(t *testing.T) {
		e := NewEstimator(&mockBackend{}, checkpointDir(t, task.EncoderSmall))
		require.NoError(t, e.LoadModel(context.Background(), task.EncoderSmall, "cpu"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := e.Estimate(ctx, solidFrames(2, 4, 4), 30, 518, "cpu", false, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
