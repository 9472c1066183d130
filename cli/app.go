package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rgbdapi/config"
	"rgbdapi/depth"
	"rgbdapi/ffmpeg"
	"rgbdapi/history"
	"rgbdapi/metrics"
	"rgbdapi/task"
)

// app is the wired service graph shared by serve and convert.
type app struct {
	manager   *task.Manager
	metrics   *metrics.Metrics
	estimator *depth.Estimator
	history   *history.Store
	device    string
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	runner, err := ffmpeg.NewRunner(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ffmpeg runner: %w", err)
	}
	video, err := ffmpeg.NewVideoService(runner, logger)
	if err != nil {
		return nil, err
	}
	merger, err := ffmpeg.NewMerger(runner, logger)
	if err != nil {
		return nil, err
	}
	audio := ffmpeg.NewAudioService(runner, logger)

	workerCmd, err := ffmpeg.SplitCommand(cfg.DepthWorker)
	if err != nil {
		return nil, fmt.Errorf("DEPTH_WORKER: %w", err)
	}
	backend, err := depth.NewWorkerBackend(workerCmd, cfg.DepthTimeout, logger)
	if err != nil {
		return nil, err
	}
	estimator := depth.NewEstimator(backend, cfg.CheckpointDir,
		depth.WithWindow(cfg.DepthWindow, cfg.DepthOverlap),
		depth.WithLogger(logger))

	device := depth.ResolveDevice(cfg.Device)
	mt := metrics.New()
	pipeline := task.NewPipeline(video, audio, estimator, merger, task.NewState(), device,
		task.WithLogger(logger),
		task.WithStageObserver(func(stage task.Stage, elapsed time.Duration) {
			mt.StageDone(string(stage), elapsed)
		}))

	opts := []task.ManagerOption{
		task.WithMetrics(mt),
		task.WithManagerLogger(logger),
		task.WithResourceCheck(task.SystemResourceCheck(cfg, logger)),
	}
	a := &app{metrics: mt, estimator: estimator, device: device}
	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open job history: %w", err)
		}
		a.history = store
		opts = append(opts, task.WithHistory(store))
	}

	a.manager, err = task.NewManager(cfg, pipeline, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	logger.Info("services ready", "device", device, "history", cfg.HistoryDB)
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.estimator != nil {
		errs = append(errs, a.estimator.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	return errors.Join(errs...)
}
