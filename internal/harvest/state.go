package harvest

import (
	"sync"
	"sync/atomic"
	"time"
)

// controlFlags are the cooperative signals shared between the control API and
// the worker. They are plain last-write-wins booleans, polled at defined
// points; there is no queued history and no preemption.
type controlFlags struct {
	stop   atomic.Bool
	resume atomic.Bool
}

func (f *controlFlags) requestStop()   { f.stop.Store(true) }
func (f *controlFlags) requestResume() { f.resume.Store(true) }
func (f *controlFlags) stopRequested() bool { return f.stop.Load() }

// consumeResume reports and clears a pending resume request in one step so a
// single resume releases exactly one challenge wait.
func (f *controlFlags) consumeResume() bool { return f.resume.Swap(false) }

func (f *controlFlags) reset() {
	f.stop.Store(false)
	f.resume.Store(false)
}

// runState is the single cross-goroutine mutable structure. Every mutation
// happens under the mutex and readers only ever see full snapshots.
type runState struct {
	mu   sync.Mutex
	snap Snapshot
}

func newRunState() *runState {
	return &runState{snap: Snapshot{Results: Report{}}}
}

// begin resets the state for a new run.
func (s *runState) begin(runID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		RunID:     runID,
		IsRunning: true,
		Results:   Report{},
		StartedAt: now,
	}
}

// snapshot returns a deep copy so callers can never observe a partial update.
func (s *runState) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.Results = make(Report, len(s.snap.Results))
	for field, results := range s.snap.Results {
		out.Results[field] = append([]KeywordResult(nil), results...)
	}
	return out
}

func (s *runState) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.IsRunning
}

func (s *runState) challengePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.CaptchaDetected
}

func (s *runState) setProgress(progress string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Progress = progress
}

func (s *runState) setChallenge(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CaptchaDetected = true
	s.snap.CaptchaMessage = message
	s.snap.DownloadPaused = true
}

func (s *runState) clearChallenge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CaptchaDetected = false
	s.snap.CaptchaMessage = ""
	s.snap.DownloadPaused = false
}

func (s *runState) appendResult(field string, result KeywordResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Results[field] = append(s.snap.Results[field], result)
}

// finishIfRunning finalizes the run unless another path (a Stop) already did.
func (s *runState) finishIfRunning(errText string, now time.Time) {
	s.mu.Lock()
	running := s.snap.IsRunning
	s.mu.Unlock()
	if running {
		s.finish(errText, now)
	}
}

// finish marks the run terminal. The challenge fields are cleared so a stop
// issued mid-challenge does not leave a stale paused status behind.
func (s *runState) finish(errText string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.IsRunning = false
	s.snap.Error = errText
	s.snap.CaptchaDetected = false
	s.snap.CaptchaMessage = ""
	s.snap.DownloadPaused = false
	s.snap.FinishedAt = now
}
