// Package harvest implements the search-and-fetch orchestration engine:
// keyword pagination, candidate URL collection, challenge handling, and the
// run controller shared between the HTTP facade and the CLI.
package harvest

import "time"

// FieldRequest is one named group of keywords to process. Fields and the
// keywords inside them are processed in the order supplied by the caller.
type FieldRequest struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// KeywordResult is the outcome of processing a single keyword. Exactly one of
// the counter set or Error is meaningful: a keyword that failed outright
// carries only Keyword, Field, and Error.
type KeywordResult struct {
	Keyword         string `json:"keyword"`
	Field           string `json:"field"`
	TotalURLsFound  int    `json:"total_urls_found"`
	DownloadedCount int    `json:"downloaded_count"`
	FailedCount     int    `json:"failed_count"`
	SavePath        string `json:"save_path,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Report maps field name to the ordered keyword results produced for it.
type Report map[string][]KeywordResult

// Snapshot is the externally observable state of the active (or most recent)
// run. Field names mirror the status payload served to the UI.
type Snapshot struct {
	RunID           string    `json:"run_id,omitempty"`
	IsRunning       bool      `json:"is_running"`
	Progress        string    `json:"progress,omitempty"`
	Results         Report    `json:"results"`
	Error           string    `json:"error,omitempty"`
	CaptchaDetected bool      `json:"captcha_detected"`
	CaptchaMessage  string    `json:"captcha_message,omitempty"`
	DownloadPaused  bool      `json:"download_paused"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// SaveOutcome classifies one candidate URL download attempt.
type SaveOutcome int

// Save outcomes reported by the document saver.
const (
	SaveFailed SaveOutcome = iota
	Saved
	SaveSkipped
)

// String returns the label used in logs and metrics.
func (o SaveOutcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case SaveSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// RunSummary is the payload published when a run reaches a terminal state.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Keywords   int       `json:"keywords"`
	Downloaded int       `json:"downloaded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
