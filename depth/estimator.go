package depth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"rgbdapi/task"
)

var ErrModelNotLoaded = errors.New("model not loaded")

const (
	DefaultWindow  = 32
	DefaultOverlap = 10
)

// Estimator implements task.DepthEstimator over a Backend, keeping at most
// one model resident.
type Estimator struct {
	backend       Backend
	checkpointDir string
	window        int
	overlap       int
	logger        *slog.Logger

	mu      sync.Mutex
	session Session
	loaded  ModelSpec
}

type Option func(*Estimator)

func WithWindow(size, overlap int) Option {
	return func(e *Estimator) {
		if size > 0 {
			e.window = size
		}
		if overlap >= 0 {
			e.overlap = overlap
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) { e.logger = logger }
}

func NewEstimator(backend Backend, checkpointDir string, opts ...Option) *Estimator {
	e := &Estimator{
		backend:       backend,
		checkpointDir: checkpointDir,
		window:        DefaultWindow,
		overlap:       DefaultOverlap,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Estimator) LoadModel(ctx context.Context, encoder task.Encoder, device string) error {
	variant, err := Lookup(encoder)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && e.loaded.Variant.ID == encoder && e.loaded.Device == device {
		return nil
	}

	ckpt := CheckpointPath(e.checkpointDir, encoder)
	if _, err := os.Stat(ckpt); err != nil {
		return fmt.Errorf("checkpoint for %s not found at %s", encoder, ckpt)
	}

	if e.session != nil {
		e.logger.Info("unloading depth model", "encoder", e.loaded.Variant.ID, "device", e.loaded.Device)
		if err := e.session.Close(); err != nil {
			e.logger.Warn("depth worker did not exit cleanly", "error", err)
		}
		e.session = nil
		e.loaded = ModelSpec{}
	}

	spec := ModelSpec{Variant: variant, Checkpoint: ckpt, Device: device}
	session, err := e.backend.Open(ctx, spec)
	if err != nil {
		return err
	}
	e.session = session
	e.loaded = spec
	e.logger.Info("depth model loaded", "encoder", encoder, "device", device)
	return nil
}

// resident returns the loaded model, if any.
func (e *Estimator) resident() (ModelSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded, e.session != nil
}

// Estimate runs the resident model over frames in overlapping windows. The
// device argument is informational; the model runs where it was loaded.
func (e *Estimator) Estimate(ctx context.Context, frames []task.Frame, targetFPS float64, inputSize int, device string, fp32 bool, onProgress task.ProgressFunc) ([]task.DepthMap, float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, 0, ErrModelNotLoaded
	}
	if device != "" && device != e.loaded.Device {
		e.logger.Warn("estimate requested on a different device than loaded", "requested", device, "loaded", e.loaded.Device)
	}
	if inputSize <= 0 {
		inputSize = task.DefaultInputSize
	}
	if onProgress == nil {
		onProgress = func(string, float64, string) {}
	}

	windows := planWindows(len(frames), e.window, e.overlap)
	out := make([]task.DepthMap, len(frames))
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		batch := make([]task.Frame, 0, w.end-w.start)
		for _, f := range frames[w.start:w.end] {
			batch = append(batch, resizeForNetwork(f, inputSize))
		}
		raw, err := e.session.Infer(ctx, batch, fp32)
		if err != nil {
			return nil, 0, fmt.Errorf("depth inference on frames %d-%d: %w", w.start, w.end-1, err)
		}

		depths := make([]task.DepthMap, len(raw))
		for k, d := range raw {
			src := frames[w.start+k]
			depths[k] = resizeDepth(d, src.Width, src.Height)
		}
		stitch(out, w, depths)
		onProgress(string(task.StageEstimatingDepth), float64(i+1)/float64(len(windows)),
			fmt.Sprintf("Processing window %d/%d", i+1, len(windows)))
	}
	return out, targetFPS, nil
}

// Close stops the resident worker.
func (e *Estimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Close()
	e.session = nil
	e.loaded = ModelSpec{}
	return err
}
