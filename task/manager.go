package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/lithammer/shortuuid/v4"

	"rgbdapi/config"
	"rgbdapi/history"
	"rgbdapi/metrics"
)

// ErrJobActive is returned when a job is submitted while another one runs,
// in this process or in another process sharing the output directory.
var ErrJobActive = errors.New("a job is already processing")

const lockFileName = ".rgbdapi.lock"

// HistoryStore persists finished jobs.
type HistoryStore interface {
	Add(ctx context.Context, r history.Record) error
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Job is one accepted submission.
type Job struct {
	ID         string     `json:"id"`
	Descriptor Descriptor `json:"-"`
	Result     Result     `json:"result"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// Manager admits at most one job at a time and runs it on its own goroutine.
type Manager struct {
	cfg           *config.Config
	pipeline      *Pipeline
	state         *State
	logger        *slog.Logger
	history       HistoryStore
	metrics       *metrics.Metrics
	checkResource ResourceCheck
}

type ManagerOption func(*Manager)

func WithHistory(store HistoryStore) ManagerOption {
	return func(m *Manager) { m.history = store }
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

func WithResourceCheck(check ResourceCheck) ManagerOption {
	return func(m *Manager) { m.checkResource = check }
}

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(cfg *config.Config, pipeline *Pipeline, opts ...ManagerOption) (*Manager, error) {
	if pipeline == nil {
		return nil, errors.New("task manager requires a pipeline")
	}
	m := &Manager{
		cfg:           cfg,
		pipeline:      pipeline,
		state:         pipeline.State(),
		logger:        slog.Default(),
		metrics:       metrics.New(),
		checkResource: func(string) error { return nil },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("task manager started", "output_dir", m.cfg.OutputDir, "lifetime", m.cfg.OutputLocalLifetime)
	if m.cfg.OutputLocalLifetime > 0 {
		go m.cleanupLoop(ctx)
	}
}

// Run executes d and waits for its result. A rejected submission never
// touches the progress state. If ctx ends first Run returns ctx.Err() and
// the job keeps running to completion.
func (m *Manager) Run(ctx context.Context, d Descriptor) (*Job, error) {
	if !m.state.TryAcquire() {
		m.metrics.JobRejected("conflict")
		return nil, ErrJobActive
	}

	lock, err := m.lockOutputDir(d.OutputDir)
	if err != nil {
		m.state.Release()
		return nil, err
	}

	if err := m.checkResource(d.OutputDir); err != nil {
		m.unlock(lock)
		m.state.Release()
		m.metrics.JobRejected("resources")
		return nil, fmt.Errorf("%w: %v", ErrInsufficientResources, err)
	}

	job := &Job{
		ID:         fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix()),
		Descriptor: d,
		StartedAt:  time.Now(),
	}
	m.logger.Info("job accepted", "task_id", job.ID, "input", d.InputPath, "encoder", d.Encoder)
	m.metrics.SetActive(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer m.state.Release()
		defer m.unlock(lock)
		defer m.metrics.SetActive(false)

		m.state.Begin()
		job.Result = m.pipeline.Process(context.WithoutCancel(ctx), d)
		job.FinishedAt = time.Now()
		m.finish(job)
	}()

	select {
	case <-done:
		return job, nil
	case <-ctx.Done():
		m.logger.Warn("caller stopped waiting, job continues", "task_id", job.ID)
		return nil, ctx.Err()
	}
}

func (m *Manager) finish(job *Job) {
	m.metrics.JobFinished(job.Result.Success)
	if job.Result.Success {
		m.logger.Info("job completed", "task_id", job.ID, "elapsed", job.FinishedAt.Sub(job.StartedAt))
	} else {
		m.logger.Error("job failed", "task_id", job.ID, "error", job.Result.Error)
	}

	if m.history == nil {
		return
	}
	rec := history.Record{
		ID:         job.ID,
		Input:      filepath.Base(job.Descriptor.InputPath),
		Encoder:    string(job.Descriptor.Encoder),
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		Success:    job.Result.Success,
		HasAudio:   job.Result.HasAudio,
		RGBDPath:   job.Result.RGBDPath,
		Error:      job.Result.Error,
	}
	if err := m.history.Add(context.Background(), rec); err != nil {
		m.logger.Warn("could not record job history", "task_id", job.ID, "error", err)
	}
}

func (m *Manager) lockOutputDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire output lock: %w", err)
	}
	if !ok {
		m.metrics.JobRejected("conflict")
		return nil, ErrJobActive
	}
	return lock, nil
}

func (m *Manager) unlock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		m.logger.Warn("failed to release output lock", "path", lock.Path(), "error", err)
	}
}

func (m *Manager) Progress() Progress {
	return m.state.Snapshot()
}

func (m *Manager) Active() bool {
	return m.state.Active()
}

// History returns recent jobs, or nil when no store is configured.
func (m *Manager) History(ctx context.Context, limit int) ([]history.Record, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.Recent(ctx, limit)
}

// cleanupLoop periodically removes artifacts and uploads older than the
// configured lifetime. Nothing is removed while a job runs.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep holds the single-flight flag while it deletes, so a job cannot
// start on an upload that is about to be removed.
func (m *Manager) sweep(now time.Time) {
	if !m.state.TryAcquire() {
		return
	}
	defer m.state.Release()

	for _, dir := range []string{m.cfg.OutputDir, m.cfg.UploadDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() || entry.Name() == lockFileName {
				continue
			}
			info, err := entry.Info()
			if err != nil || now.Sub(info.ModTime()) <= m.cfg.OutputLocalLifetime {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			m.logger.Info("cleaning up old file", "path", path)
			if err := os.Remove(path); err != nil {
				m.logger.Warn("cleanup failed", "path", path, "error", err)
			}
		}
	}
}

// GetFilePath resolves an artifact name inside the output directory.
func (m *Manager) GetFilePath(filename string) (string, error) {
	// Security: Prevent path traversal
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename || filename == lockFileName {
		return "", fmt.Errorf("invalid filename")
	}

	fullPath := filepath.Join(m.cfg.OutputDir, cleanFilename)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
