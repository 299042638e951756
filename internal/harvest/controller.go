package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/clock/system"
	"github.com/pdfharvest/pdfharvest/internal/id/uuid"
	"github.com/pdfharvest/pdfharvest/internal/progress"
)

// Invocation errors returned synchronously by the control operations.
var (
	ErrRunActive   = errors.New("a download run is already in progress")
	ErrNoActiveRun = errors.New("no download run in progress")
	ErrNoChallenge = errors.New("no challenge pending to resume from")
	ErrNoKeywords  = errors.New("no fields or keywords selected")
)

// StoppedByUser is the terminal error marker recorded when an operator stops
// a run. The UI matches on it verbatim.
const StoppedByUser = "Download stopped by user"

// Recorder persists run history. Implementations live in internal/store; the
// controller only logs recorder failures, it never fails a run over them.
type Recorder interface {
	BeginRun(ctx context.Context, runID string, startedAt time.Time) error
	RecordKeyword(ctx context.Context, runID string, result KeywordResult) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, status, errText string) error
}

// ControllerConfig bundles the run-level knobs.
type ControllerConfig struct {
	// DownloadRoot is the base directory for the field/keyword tree.
	DownloadRoot string
	// Collector bounds each keyword's pagination.
	Collector CollectorConfig
	// KeywordDelayMin/Max is the long pause between keywords.
	KeywordDelayMin time.Duration
	KeywordDelayMax time.Duration
	// EventTopic names the channel run summaries are published on.
	EventTopic string
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.DownloadRoot == "" {
		c.DownloadRoot = "downloads"
	}
	if c.KeywordDelayMax <= 0 {
		c.KeywordDelayMin = 5 * time.Second
		c.KeywordDelayMax = 10 * time.Second
	}
	if c.EventTopic == "" {
		c.EventTopic = "pdfharvest.runs"
	}
	return c
}

// Controller is the top-level run state machine. One run is active at a time;
// the control operations are safe to call from any goroutine while the run's
// worker goroutine owns the page-fetching session.
type Controller struct {
	cfg       ControllerConfig
	factory   FetcherFactory
	saver     Saver
	detector  Detector
	sleeper   Sleeper
	recorder  Recorder
	publisher Publisher
	emitter   progress.Emitter
	clock     Clock
	idGen     IDGenerator
	logger    *zap.Logger

	flags controlFlags
	state *runState

	mu          sync.Mutex
	active      bool
	fetcher     PageFetcher
	releaseOnce *sync.Once
	cancelRun   context.CancelFunc
}

// NewController wires a Controller. factory and saver are required; the rest
// fall back to defaults (nop logger, system clock, no recording/publishing).
func NewController(
	cfg ControllerConfig,
	factory FetcherFactory,
	saver Saver,
	opts ...ControllerOption,
) *Controller {
	c := &Controller{
		cfg:     cfg.withDefaults(),
		factory: factory,
		saver:   saver,
		state:   newRunState(),
		logger:  zap.NewNop(),
		clock:   system.New(),
		idGen:   uuid.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.detector == nil {
		c.detector = NewChallengeDetector()
	}
	if c.sleeper == nil {
		c.sleeper = NewRandomSleeper()
	}
	return c
}

// ControllerOption customizes optional collaborators.
type ControllerOption func(*Controller)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDetector overrides the challenge detector.
func WithDetector(d Detector) ControllerOption {
	return func(c *Controller) { c.detector = d }
}

// WithSleeper overrides the randomized sleeper (tests use a no-op one).
func WithSleeper(s Sleeper) ControllerOption {
	return func(c *Controller) { c.sleeper = s }
}

// WithRecorder attaches a run-history recorder.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithPublisher attaches a run-completion publisher.
func WithPublisher(p Publisher) ControllerOption {
	return func(c *Controller) { c.publisher = p }
}

// WithProgress attaches a progress event emitter, typically a progress.Hub.
func WithProgress(e progress.Emitter) ControllerOption {
	return func(c *Controller) { c.emitter = e }
}

// WithClock overrides the clock.
func WithClock(clk Clock) ControllerOption {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(g IDGenerator) ControllerOption {
	return func(c *Controller) {
		if g != nil {
			c.idGen = g
		}
	}
}

// RunOption adjusts limits for a single run without touching the controller's
// base configuration.
type RunOption func(*CollectorConfig)

// WithMaxCandidates caps the candidate set per keyword for this run only.
func WithMaxCandidates(n int) RunOption {
	return func(cfg *CollectorConfig) {
		if n > 0 {
			cfg.MaxCandidates = n
		}
	}
}

// WithMaxPages caps result pages per keyword for this run only.
func WithMaxPages(n int) RunOption {
	return func(cfg *CollectorConfig) {
		if n > 0 {
			cfg.MaxPages = n
		}
	}
}

// Start validates the request, claims the single run slot, and launches the
// worker goroutine. It returns the run ID immediately; progress is observed
// through Status.
func (c *Controller) Start(fields []FieldRequest, opts ...RunOption) (string, error) {
	total := 0
	for _, f := range fields {
		total += len(f.Keywords)
	}
	if total == 0 {
		return "", ErrNoKeywords
	}

	collectorCfg := c.cfg.Collector
	for _, opt := range opts {
		opt(&collectorCfg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return "", ErrRunActive
	}

	runID, err := c.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}

	c.flags.reset()
	c.state.begin(runID, c.clock.Now())
	c.active = true
	c.releaseOnce = &sync.Once{}
	setActiveRun(true)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel

	go c.run(ctx, runID, fields, collectorCfg)
	return runID, nil
}

// Stop requests termination of the active run: it sets the stop flag, marks
// the state terminal with the stopped-by-user marker, and force-releases the
// page-fetching session so the worker cannot hang on a dead wait. Repeated
// calls while the worker drains are no-ops beyond the first.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return ErrNoActiveRun
	}
	c.flags.requestStop()
	c.state.finish(StoppedByUser, c.clock.Now())
	c.releaseFetcherLocked()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.logger.Info("stop requested")
	return nil
}

// Resume releases a pending challenge wait. It is rejected when no run is
// active or no challenge is pending.
func (c *Controller) Resume() error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return ErrNoActiveRun
	}
	if !c.state.challengePending() {
		return ErrNoChallenge
	}
	c.flags.requestResume()
	c.logger.Info("resume requested")
	return nil
}

// Status returns a point-in-time copy of the run state. Never blocks on the
// worker.
func (c *Controller) Status() Snapshot {
	return c.state.snapshot()
}

// progressReporter stamps run ID and timestamp onto emitted events. A nil
// reporter (no emitter configured) is safe to call.
type progressReporter struct {
	out   progress.Emitter
	runID string
	clock Clock
}

func (r *progressReporter) emit(evt progress.Event) {
	if r == nil || r.out == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.clock.Now()
	r.out.Emit(evt)
}

func (c *Controller) run(ctx context.Context, runID string, fields []FieldRequest, collectorCfg CollectorConfig) {
	logger := c.logger.With(zap.String("run_id", runID))
	startedAt := c.clock.Now()
	reporter := &progressReporter{out: c.emitter, runID: runID, clock: c.clock}

	defer func() {
		c.mu.Lock()
		c.releaseFetcherLocked()
		c.active = false
		c.cancelRun = nil
		c.mu.Unlock()
		setActiveRun(false)
	}()

	if c.recorder != nil {
		if err := c.recorder.BeginRun(ctx, runID, startedAt); err != nil {
			logger.Warn("recorder begin failed", zap.Error(err))
		}
	}

	fetcher, err := c.factory.Open(ctx)
	if err != nil {
		logger.Error("page fetcher open failed", zap.Error(err))
		c.finalize(runID, "failed", fmt.Sprintf("failed to open page fetcher: %v", err), reporter, logger)
		return
	}
	c.mu.Lock()
	if c.flags.stopRequested() {
		// Stop arrived while the session was opening; close it here because
		// Stop had nothing to release yet.
		c.mu.Unlock()
		fetcher.Close()
		c.finalize(runID, "stopped", StoppedByUser, reporter, logger)
		return
	}
	c.fetcher = fetcher
	c.mu.Unlock()

	logger.Info("run started", zap.Int("fields", len(fields)))
	reporter.emit(progress.Event{Stage: progress.StageRunStart})

	var fatalErr error

fieldLoop:
	for _, field := range fields {
		if c.flags.stopRequested() {
			break
		}
		if !fetcher.IsResponsive(ctx) {
			fatalErr = ErrFetcherUnavailable
			break
		}
		logger.Info("processing field", zap.String("field", field.Name))

		for i, keyword := range field.Keywords {
			if c.flags.stopRequested() {
				break fieldLoop
			}
			c.state.setProgress(fmt.Sprintf("%s: %s (%d/%d)", field.Name, keyword, i+1, len(field.Keywords)))
			reporter.emit(progress.Event{
				Stage:   progress.StageKeywordStart,
				Field:   field.Name,
				Keyword: keyword,
			})

			result, fatal := c.processKeyword(ctx, fetcher, collectorCfg, field.Name, keyword, reporter, logger)
			if fatal != nil {
				fatalErr = fatal
				break fieldLoop
			}
			c.state.appendResult(field.Name, result)
			reporter.emit(progress.Event{
				Stage:      progress.StageKeywordDone,
				Field:      field.Name,
				Keyword:    keyword,
				Candidates: result.TotalURLsFound,
				Downloaded: result.DownloadedCount,
				Failed:     result.FailedCount,
				Note:       result.Error,
			})
			if c.recorder != nil {
				if recErr := c.recorder.RecordKeyword(ctx, runID, result); recErr != nil {
					logger.Warn("recorder keyword failed", zap.Error(recErr))
				}
			}
			c.sleeper.Sleep(ctx, c.cfg.KeywordDelayMin, c.cfg.KeywordDelayMax)
		}
	}

	switch {
	// Stop force-releases the session, so a stop mid-fetch also surfaces as a
	// dead fetcher; the stop flag decides which one it really was.
	case c.flags.stopRequested():
		logger.Info("run stopped by user")
		c.finalize(runID, "stopped", StoppedByUser, reporter, logger)
	case fatalErr != nil:
		logger.Error("run aborted", zap.Error(fatalErr))
		c.finalize(runID, "failed", fmt.Sprintf("download process stopped: %v", fatalErr), reporter, logger)
	default:
		logger.Info("run completed")
		c.finalize(runID, "completed", "", reporter, logger)
	}
}

// processKeyword collects candidate URLs for one keyword and downloads them.
// Every per-keyword failure is absorbed into an error result; only a dead
// fetcher session comes back as fatal.
func (c *Controller) processKeyword(
	ctx context.Context,
	fetcher PageFetcher,
	collectorCfg CollectorConfig,
	field, keyword string,
	reporter *progressReporter,
	logger *zap.Logger,
) (KeywordResult, error) {
	dir := filepath.Join(c.cfg.DownloadRoot, pathSegment(field), pathSegment(keyword))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return KeywordResult{
			Keyword: keyword,
			Field:   field,
			Error:   fmt.Sprintf("create keyword directory: %v", err),
		}, nil
	}

	collector := NewCollector(collectorCfg, fetcher, c.detector, c.sleeper, &c.flags, c.state, reporter, logger)
	urls, err := collector.Collect(ctx, keyword)
	if err != nil {
		if errors.Is(err, ErrFetcherUnavailable) {
			return KeywordResult{}, err
		}
		return KeywordResult{Keyword: keyword, Field: field, Error: err.Error()}, nil
	}

	downloaded, failed := 0, 0
	for _, u := range urls {
		if c.flags.stopRequested() {
			break
		}
		saveStart := c.clock.Now()
		outcome, saveErr := c.saver.Save(ctx, u, dir)
		ObserveDownload(outcome)
		reporter.emit(progress.Event{
			Stage:   progress.StageDownloadDone,
			Field:   field,
			Keyword: keyword,
			URL:     u,
			Outcome: outcome.String(),
			Dur:     c.clock.Now().Sub(saveStart),
		})
		switch outcome {
		case Saved:
			downloaded++
		case SaveSkipped:
			// Existing file; counts toward neither downloaded nor failed.
		default:
			failed++
			if saveErr != nil {
				logger.Warn("download failed", zap.String("url", u), zap.Error(saveErr))
			}
		}
	}

	return KeywordResult{
		Keyword:         keyword,
		Field:           field,
		TotalURLsFound:  len(urls),
		DownloadedCount: downloaded,
		FailedCount:     failed,
		SavePath:        dir,
	}, nil
}

func (c *Controller) finalize(runID, status, errText string, reporter *progressReporter, logger *zap.Logger) {
	finishedAt := c.clock.Now()
	c.state.finishIfRunning(errText, finishedAt)
	observeRunDone(status)

	snap := c.state.snapshot()
	summary := RunSummary{
		RunID:      runID,
		Status:     status,
		StartedAt:  snap.StartedAt,
		FinishedAt: finishedAt,
	}
	for _, results := range snap.Results {
		for _, r := range results {
			summary.Keywords++
			summary.Downloaded += r.DownloadedCount
			summary.Failed += r.FailedCount
		}
	}

	reporter.emit(progress.Event{
		Stage:      progress.StageRunDone,
		Outcome:    status,
		Downloaded: summary.Downloaded,
		Failed:     summary.Failed,
		Dur:        finishedAt.Sub(snap.StartedAt),
		Note:       errText,
	})

	if c.recorder != nil {
		if err := c.recorder.FinishRun(context.Background(), runID, finishedAt, status, errText); err != nil {
			logger.Warn("recorder finish failed", zap.Error(err))
		}
	}
	if c.publisher != nil {
		if _, err := c.publisher.Publish(context.Background(), c.cfg.EventTopic, summary); err != nil {
			logger.Warn("run summary publish failed", zap.Error(err))
		}
	}
}

// releaseFetcherLocked closes the current session exactly once. Callers hold
// c.mu.
func (c *Controller) releaseFetcherLocked() {
	if c.fetcher == nil || c.releaseOnce == nil {
		return
	}
	fetcher := c.fetcher
	c.releaseOnce.Do(func() {
		fetcher.Close()
		c.logger.Info("page fetcher released")
	})
}

// pathSegment makes a field or keyword usable as a directory name.
func pathSegment(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}
