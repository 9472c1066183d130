package task

import "sync"

// State holds the process-wide progress snapshot and the single-flight flag.
// Both are guarded by one mutex so readers always see a whole snapshot.
type State struct {
	mu       sync.RWMutex
	progress Progress
	active   bool
}

func NewState() *State {
	return &State{progress: Progress{Stage: StageIdle}}
}

// Snapshot returns a copy of the latest progress.
func (s *State) Snapshot() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Report replaces the snapshot. Within one stage the fraction never moves
// backwards; a stage change resets it.
func (s *State) Report(stage Stage, fraction float64, message string) {
	fraction = clamp01(fraction)

	s.mu.Lock()
	defer s.mu.Unlock()
	if stage == s.progress.Stage && fraction < s.progress.Progress {
		fraction = s.progress.Progress
	}
	s.progress = Progress{Stage: stage, Progress: fraction, Message: message}
}

// Begin resets the snapshot for a new job.
func (s *State) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = Progress{Stage: StageUploading}
}

// TryAcquire sets the active flag. It returns false if it was already set.
func (s *State) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *State) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func clamp01(v float64) float64 {
	switch {
	case v != v, v < 0: // NaN or negative
		return 0
	case v > 1:
		return 1
	}
	return v
}
