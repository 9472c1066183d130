package depth

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"sync"
	"time"

	"rgbdapi/task"
)

// ModelSpec identifies a loaded model.
type ModelSpec struct {
	Variant    Variant
	Checkpoint string
	Device     string
}

// Backend starts inference sessions.
type Backend interface {
	Open(ctx context.Context, spec ModelSpec) (Session, error)
}

// Session runs inference on one resident model.
type Session interface {
	// Infer returns one depth map per frame at the frames' resolution.
	Infer(ctx context.Context, frames []task.Frame, fp32 bool) ([]task.DepthMap, error)
	Close() error
}

// Each message is one JSON header line, optionally followed by a raw
// payload whose length the header implies: rgb24 bytes on requests and
// little-endian float32 values on replies.
type request struct {
	Op          string `json:"op"`
	Encoder     string `json:"encoder,omitempty"`
	Checkpoint  string `json:"checkpoint,omitempty"`
	Device      string `json:"device,omitempty"`
	Features    int    `json:"features,omitempty"`
	OutChannels []int  `json:"out_channels,omitempty"`
	Frames      int    `json:"frames,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	FP32        bool   `json:"fp32,omitempty"`
}

type reply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Frames int    `json:"frames,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// maxDepthSide bounds the depth map size a worker may announce.
const maxDepthSide = 8192

// WorkerBackend runs the model in a long-lived child process. A positive
// timeout limits each load or infer round trip.
type WorkerBackend struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

func NewWorkerBackend(command []string, timeout time.Duration, logger *slog.Logger) (*WorkerBackend, error) {
	if len(command) == 0 {
		return nil, errors.New("depth worker command is empty")
	}
	return &WorkerBackend{command: command, timeout: timeout, logger: logger}, nil
}

func (b *WorkerBackend) Open(ctx context.Context, spec ModelSpec) (Session, error) {
	cmd := exec.Command(b.command[0], b.command[1:]...)
	cmd.Stderr = &logWriter{logger: b.logger}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start depth worker: %w", err)
	}

	s := &workerSession{
		cmd:     cmd,
		stdin:   stdin,
		w:       bufio.NewWriter(stdin),
		r:       bufio.NewReader(stdout),
		timeout: b.timeout,
		logger:  b.logger,
	}
	load := request{
		Op:          "load",
		Encoder:     string(spec.Variant.ID),
		Checkpoint:  spec.Checkpoint,
		Device:      spec.Device,
		Features:    spec.Variant.Features,
		OutChannels: spec.Variant.OutChannels,
	}
	err = s.exchange(ctx, func() error {
		if err := s.send(load, nil); err != nil {
			return err
		}
		_, err := s.receive()
		return err
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("load %s on %s: %w", spec.Variant.ID, spec.Device, err)
	}
	b.logger.Info("depth worker ready", "encoder", spec.Variant.ID, "device", spec.Device, "pid", cmd.Process.Pid)
	return s, nil
}

type workerSession struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	w       *bufio.Writer
	r       *bufio.Reader
	timeout time.Duration
	broken  error
	logger  *slog.Logger
}

func (s *workerSession) Infer(ctx context.Context, frames []task.Frame, fp32 bool) ([]task.DepthMap, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	w, h := frames[0].Width, frames[0].Height
	payload := make([]byte, 0, len(frames)*w*h*3)
	for i, f := range frames {
		if f.Width != w || f.Height != h {
			return nil, fmt.Errorf("frame %d is %dx%d, window is %dx%d", i, f.Width, f.Height, w, h)
		}
		payload = append(payload, f.Pix...)
	}

	var out []task.DepthMap
	err := s.exchange(ctx, func() error {
		req := request{Op: "infer", Frames: len(frames), Width: w, Height: h, FP32: fp32}
		if err := s.send(req, payload); err != nil {
			return err
		}
		rep, err := s.receive()
		if err != nil {
			return err
		}
		out, err = s.readDepths(rep, len(frames))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// exchange runs one request/response round trip. A cancelled or timed out
// context kills the worker since the stream position is then unknown.
func (s *workerSession) exchange(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return s.broken
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("depth worker exchange panicked: %v", r)
			}
		}()
		done <- fn()
	}()
	select {
	case err := <-done:
		var werr *workerError
		if err != nil && !errors.As(err, &werr) {
			s.broken = fmt.Errorf("depth worker unusable: %w", err)
		}
		return err
	case <-ctx.Done():
		err := ctx.Err()
		if s.timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("depth worker timed out after %s: %w", s.timeout, err)
		}
		s.broken = fmt.Errorf("depth worker abandoned: %w", err)
		_ = s.cmd.Process.Kill()
		<-done
		return err
	}
}

func (s *workerSession) send(req request, payload []byte) error {
	hdr, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(hdr, '\n')); err != nil {
		return err
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	return s.w.Flush()
}

// workerError is a failure the worker reported itself; the session stays usable.
type workerError struct {
	msg string
}

func (e *workerError) Error() string { return e.msg }

func (s *workerSession) receive() (reply, error) {
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		return reply{}, fmt.Errorf("read worker reply: %w", err)
	}
	var rep reply
	if err := json.Unmarshal(line, &rep); err != nil {
		return reply{}, fmt.Errorf("malformed worker reply %q: %w", line, err)
	}
	if !rep.OK {
		return rep, &workerError{msg: rep.Error}
	}
	return rep, nil
}

// readDepths checks the announced shape before reading any payload.
func (s *workerSession) readDepths(rep reply, want int) ([]task.DepthMap, error) {
	if rep.Frames != want {
		return nil, fmt.Errorf("depth worker returned %d maps for %d frames", rep.Frames, want)
	}
	if rep.Width <= 0 || rep.Height <= 0 || rep.Width > maxDepthSide || rep.Height > maxDepthSide {
		return nil, fmt.Errorf("worker reply has invalid shape %dx%d", rep.Width, rep.Height)
	}
	n := rep.Width * rep.Height
	buf := make([]byte, n*4)
	out := make([]task.DepthMap, rep.Frames)
	for i := range out {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			return nil, fmt.Errorf("read depth frame %d: %w", i, err)
		}
		vals := make([]float32, n)
		for j := range vals {
			vals[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		out[i] = task.DepthMap{Width: rep.Width, Height: rep.Height, Values: vals}
	}
	return out, nil
}

func (s *workerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken == nil {
		if err := s.send(request{Op: "quit"}, nil); err != nil {
			s.logger.Debug("depth worker quit request failed", "error", err)
		}
	}
	s.broken = errors.New("depth worker closed")
	_ = s.stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- s.cmd.Wait() }()
	select {
	case err := <-waited:
		return ignoreKilled(err)
	case <-time.After(5 * time.Second):
		_ = s.cmd.Process.Kill()
		return ignoreKilled(<-waited)
	}
}

func ignoreKilled(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// logWriter forwards worker stderr to the logger.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Debug("depth worker", "output", string(p))
	return len(p), nil
}
