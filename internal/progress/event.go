// Package progress defines the event stream emitted by active download runs.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageKeywordStart  Stage = "KEYWORD_START"
	StageKeywordDone   Stage = "KEYWORD_DONE"
	StagePageDone      Stage = "PAGE_DONE"
	StageChallenge     Stage = "CHALLENGE_DETECTED"
	StageChallengeDone Stage = "CHALLENGE_RESOLVED"
	StageDownloadDone  Stage = "DOWNLOAD_DONE"
)

// Event captures a single milestone of a download run.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Field and Keyword scope keyword-level events.
	Field   string
	Keyword string
	// Page is the zero-based result page index for PAGE_DONE events.
	Page int
	// URL is the candidate URL for DOWNLOAD_DONE events.
	URL string
	// Outcome carries the save outcome or terminal run status.
	Outcome string
	// Candidates is the cumulative candidate count after a result page.
	Candidates int
	// Downloaded and Failed carry keyword or run totals on _DONE events.
	Downloaded int
	Failed     int
	// Dur captures execution latency where it is meaningful.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageChallenge, StageChallengeDone:
	case StageKeywordStart, StageKeywordDone, StagePageDone:
		if e.Keyword == "" {
			return fmt.Errorf("%s requires keyword", e.Stage)
		}
	case StageDownloadDone:
		if e.URL == "" {
			return errors.New("download done requires url")
		}
		if e.Outcome == "" {
			return errors.New("download done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
