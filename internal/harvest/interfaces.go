package harvest

import (
	"context"
	"time"
)

// PageFetcher is the rendered-page capability the collector drives. It wraps a
// stateful browser (or plain HTTP) session owned by one run at a time.
// Implementations must tolerate calls after Close by returning errors rather
// than panicking; the controller treats a dead fetcher as fatal.
type PageFetcher interface {
	// Navigate loads the URL and blocks until the document is ready or the
	// fetcher's page-load timeout elapses.
	Navigate(ctx context.Context, url string) error
	// IsResponsive reports whether the underlying session is still alive.
	IsResponsive(ctx context.Context) bool
	// PageText returns the visible text of the current page.
	PageText(ctx context.Context) (string, error)
	// ScrollBottom scrolls to the document end so lazy content renders.
	ScrollBottom(ctx context.Context) error
	// AnchorHrefs returns the href of every anchor in the rendered DOM.
	AnchorHrefs(ctx context.Context) ([]string, error)
	// Close releases the session. Safe to call more than once.
	Close()
}

// FetcherFactory opens a fresh PageFetcher session for a run.
type FetcherFactory interface {
	Open(ctx context.Context) (PageFetcher, error)
}

// Detector inspects rendered page text for anti-automation markers.
type Detector interface {
	Detect(pageText string) bool
}

// Sleeper blocks for a randomized duration between min and max. The wait ends
// early when ctx is canceled; callers re-check their stop flag afterwards.
type Sleeper interface {
	Sleep(ctx context.Context, min, max time.Duration)
}

// Saver downloads one candidate URL into dir and reports the outcome.
// Transport errors and non-200 responses surface as SaveFailed with a nil
// error unless the failure is environmental (directory creation and similar).
type Saver interface {
	Save(ctx context.Context, url, dir string) (SaveOutcome, error)
}

// Publisher pushes run lifecycle events to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
