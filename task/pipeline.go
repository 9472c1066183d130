package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// StageObserver is told how long each completed stage took.
type StageObserver func(stage Stage, elapsed time.Duration)

// Pipeline runs one job through the fixed stage sequence and publishes
// progress into State. It never returns an error: every failure becomes a
// failed Result.
type Pipeline struct {
	frames  FrameIO
	audio   AudioIO
	depth   DepthEstimator
	merger  RGBDMerger
	state   *State
	device  string
	logger  *slog.Logger
	observe StageObserver
}

type PipelineOption func(*Pipeline)

func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

func WithStageObserver(fn StageObserver) PipelineOption {
	return func(p *Pipeline) { p.observe = fn }
}

func NewPipeline(frames FrameIO, audio AudioIO, depth DepthEstimator, merger RGBDMerger, state *State, device string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		frames:  frames,
		audio:   audio,
		depth:   depth,
		merger:  merger,
		state:   state,
		device:  device,
		logger:  slog.Default(),
		observe: func(Stage, time.Duration) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) State() *State {
	return p.state
}

// Process executes the job described by d.
func (p *Pipeline) Process(ctx context.Context, d Descriptor) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = p.fail(fmt.Errorf("unexpected fault: %v", r))
		}
	}()

	hasAudio, err := p.run(ctx, d)
	if err != nil {
		return p.fail(err)
	}

	p.state.Report(StageComplete, 1, "Processing complete!")
	p.logger.Info("job complete", "input", d.InputPath, "rgbd", d.RGBDPath(), "has_audio", hasAudio)
	return Result{
		Success:   true,
		SrcPath:   d.SourcePath(),
		DepthPath: d.DepthPath(),
		RGBDPath:  d.RGBDPath(),
		HasAudio:  hasAudio,
	}
}

func (p *Pipeline) run(ctx context.Context, d Descriptor) (bool, error) {
	if err := os.MkdirAll(d.OutputDir, 0o755); err != nil {
		return false, &StageError{Stage: StageUploading, Err: fmt.Errorf("create output directory: %w", err)}
	}

	// Audio comes from the original input, before any frame capping.
	start := p.begin(StageExtractingAudio, "Checking for audio...")
	audioExtracted := false
	if p.audio.HasAudio(ctx, d.InputPath) {
		p.state.Report(StageExtractingAudio, 0.5, "Extracting audio...")
		audioExtracted = p.audio.ExtractAudio(ctx, d.InputPath, d.AudioPath())
		if !audioExtracted {
			p.logger.Warn("audio extraction failed, continuing without audio", "input", d.InputPath)
		}
	}
	if audioExtracted {
		p.done(StageExtractingAudio, start, "Audio extracted")
	} else {
		p.done(StageExtractingAudio, start, "No audio track")
	}

	start = p.begin(StageReadingFrames, "Reading video frames...")
	frames, fps, err := p.frames.ReadFrames(ctx, d.InputPath, d.MaxLen, d.TargetFPS, d.MaxRes)
	if err != nil {
		return false, &StageError{Stage: StageReadingFrames, Err: err}
	}
	p.done(StageReadingFrames, start, fmt.Sprintf("Read %d frames at %.1f fps", len(frames), fps))

	start = p.begin(StageEstimatingDepth, "Loading depth model...")
	if err := p.depth.LoadModel(ctx, d.Encoder, p.device); err != nil {
		return false, &StageError{Stage: StageEstimatingDepth, Err: err}
	}
	depths, fps, err := p.depth.Estimate(ctx, frames, fps, d.InputSize, p.device, d.FP32, p.relayDepthProgress)
	if err != nil {
		return false, &StageError{Stage: StageEstimatingDepth, Err: err}
	}
	if len(depths) == 0 {
		return false, &StageError{Stage: StageEstimatingDepth, Err: errors.New("depth estimation produced no frames")}
	}
	p.done(StageEstimatingDepth, start, fmt.Sprintf("Estimated depth for %d frames", len(depths)))

	start = p.begin(StageSavingSource, "Saving source video...")
	if err := p.frames.SaveVideo(ctx, frames, d.SourcePath(), fps); err != nil {
		return false, &StageError{Stage: StageSavingSource, Err: err}
	}
	frames = nil
	p.done(StageSavingSource, start, "Source video saved")

	start = p.begin(StageSavingDepth, "Saving depth video...")
	if err := p.frames.SaveDepthVideo(ctx, depths, d.DepthPath(), fps); err != nil {
		return false, &StageError{Stage: StageSavingDepth, Err: err}
	}
	depths = nil
	p.done(StageSavingDepth, start, "Depth video saved")

	start = p.begin(StageMergingRGBD, "Merging RGBD video...")
	audioPath := ""
	if audioExtracted {
		audioPath = d.AudioPath()
	}
	if err := p.merger.Merge(ctx, d.SourcePath(), d.DepthPath(), d.RGBDPath(), audioPath); err != nil {
		return false, &StageError{Stage: StageMergingRGBD, Err: err}
	}
	p.done(StageMergingRGBD, start, "RGBD merge complete")

	return audioExtracted, nil
}

func (p *Pipeline) begin(stage Stage, message string) time.Time {
	p.state.Report(stage, 0, message)
	p.logger.Debug("stage started", "stage", stage)
	return time.Now()
}

func (p *Pipeline) done(stage Stage, start time.Time, message string) {
	p.state.Report(stage, 1, message)
	elapsed := time.Since(start)
	p.observe(stage, elapsed)
	p.logger.Info("stage done", "stage", stage, "elapsed", elapsed, "message", message)
}

// relayDepthProgress forwards the estimator's own fraction and message.
func (p *Pipeline) relayDepthProgress(_ string, fraction float64, message string) {
	p.state.Report(StageEstimatingDepth, fraction, message)
}

func (p *Pipeline) fail(err error) Result {
	stage := StageFailed
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	p.state.Report(StageFailed, 0, err.Error())
	p.logger.Error("job failed", "stage", stage, "error", err)
	return Result{Success: false, Error: err.Error()}
}
