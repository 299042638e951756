package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFactory struct {
	fetcher PageFetcher
	err     error
	gate    chan struct{} // when non-nil, Open blocks until closed

	mu    sync.Mutex
	opens int
}

func (f *fakeFactory) Open(ctx context.Context) (PageFetcher, error) {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.fetcher, nil
}

type fakeSaver struct {
	mu       sync.Mutex
	outcomes map[string]SaveOutcome
	saved    []string
}

func (s *fakeSaver) Save(_ context.Context, url, _ string) (SaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, url)
	outcome, ok := s.outcomes[url]
	if !ok {
		return Saved, nil
	}
	if outcome == SaveFailed {
		return SaveFailed, errors.New("status 404")
	}
	return outcome, nil
}

type fakeRecorder struct {
	mu           sync.Mutex
	begun        []string
	keywords     []KeywordResult
	finishStatus string
	finishErr    string
}

func (r *fakeRecorder) BeginRun(_ context.Context, runID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, runID)
	return nil
}

func (r *fakeRecorder) RecordKeyword(_ context.Context, _ string, result KeywordResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keywords = append(r.keywords, result)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ string, _ time.Time, status, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishStatus = status
	r.finishErr = errText
	return nil
}

func (r *fakeRecorder) finished() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishStatus, r.finishErr
}

func (r *fakeRecorder) runsBegun() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.begun...)
}

func (r *fakeRecorder) recorded() []KeywordResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]KeywordResult(nil), r.keywords...)
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

func (p *fakePublisher) published() ([]string, []any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([]any(nil), p.payloads...)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDGen struct{ id string }

func (g fixedIDGen) NewID() (string, error) { return g.id, nil }

// gateSleeper signals on entered the first time it is called, then blocks
// until the context is canceled.
type gateSleeper struct {
	entered chan struct{}
	once    sync.Once
}

func (s *gateSleeper) Sleep(ctx context.Context, _, _ time.Duration) {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
}

func waitNotRunning(t *testing.T, c *Controller) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return !c.Status().IsRunning
	}, 5*time.Second, 10*time.Millisecond)
	return c.Status()
}

func TestStartRunsToCompletion(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		fakePage{texts: []string{"results"}, hrefs: []string{"https://a.example/1.pdf"}},
		fakePage{texts: []string{"results"}, hrefs: []string{
			"https://b.example/2.pdf",
			"https://b.example/3.pdf",
		}},
	)
	saver := &fakeSaver{}
	recorder := &fakeRecorder{}
	publisher := &fakePublisher{}

	c := NewController(
		ControllerConfig{
			DownloadRoot: t.TempDir(),
			Collector:    CollectorConfig{MaxPages: 1},
		},
		&fakeFactory{fetcher: fetcher},
		saver,
		WithSleeper(nopSleeper{}),
		WithRecorder(recorder),
		WithPublisher(publisher),
		WithClock(fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}),
		WithIDGenerator(fixedIDGen{id: "run-1"}),
	)

	runID, err := c.Start([]FieldRequest{
		{Name: "cybersecurity", Keywords: []string{"network security", "zero trust"}},
	})
	require.NoError(t, err)
	require.Equal(t, "run-1", runID)

	snap := waitNotRunning(t, c)
	// Session release is the worker's last act; once it happens the recorder
	// and publisher calls have all landed.
	require.Eventually(t, fetcher.isClosed, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "run-1", snap.RunID)
	require.Empty(t, snap.Error)

	results := snap.Results["cybersecurity"]
	require.Len(t, results, 2)
	require.Equal(t, 1, results[0].TotalURLsFound)
	require.Equal(t, 1, results[0].DownloadedCount)
	require.Equal(t, 2, results[1].DownloadedCount)
	require.Zero(t, results[0].FailedCount)
	require.Contains(t, results[0].SavePath, "network_security")

	require.Equal(t, []string{"run-1"}, recorder.runsBegun())
	require.Len(t, recorder.recorded(), 2)
	status, errText := recorder.finished()
	require.Equal(t, "completed", status)
	require.Empty(t, errText)

	topics, payloads := publisher.published()
	require.Equal(t, []string{"pdfharvest.runs"}, topics)
	summary, ok := payloads[0].(RunSummary)
	require.True(t, ok)
	require.Equal(t, 2, summary.Keywords)
	require.Equal(t, 3, summary.Downloaded)
}

func TestStartTalliesSaveOutcomes(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{texts: []string{"results"}, hrefs: []string{
		"https://a.example/ok.pdf",
		"https://a.example/gone.pdf",
		"https://a.example/have.pdf",
	}})
	saver := &fakeSaver{outcomes: map[string]SaveOutcome{
		"https://a.example/gone.pdf": SaveFailed,
		"https://a.example/have.pdf": SaveSkipped,
	}}

	c := NewController(
		ControllerConfig{DownloadRoot: t.TempDir(), Collector: CollectorConfig{MaxPages: 1}},
		&fakeFactory{fetcher: fetcher},
		saver,
		WithSleeper(nopSleeper{}),
	)

	_, err := c.Start([]FieldRequest{{Name: "ai", Keywords: []string{"llm"}}})
	require.NoError(t, err)

	snap := waitNotRunning(t, c)
	result := snap.Results["ai"][0]
	require.Equal(t, 3, result.TotalURLsFound)
	require.Equal(t, 1, result.DownloadedCount)
	require.Equal(t, 1, result.FailedCount)
}

func TestStartRejectsEmptySelection(t *testing.T) {
	t.Parallel()

	c := NewController(ControllerConfig{}, &fakeFactory{}, &fakeSaver{}, WithSleeper(nopSleeper{}))

	_, err := c.Start(nil)
	require.ErrorIs(t, err, ErrNoKeywords)

	_, err = c.Start([]FieldRequest{{Name: "empty"}})
	require.ErrorIs(t, err, ErrNoKeywords)
}

func TestStartRejectsSecondRun(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	factory := &fakeFactory{
		fetcher: newScriptedFetcher(fakePage{texts: []string{"results"}}),
		gate:    gate,
	}
	c := NewController(ControllerConfig{DownloadRoot: t.TempDir()}, factory, &fakeSaver{}, WithSleeper(nopSleeper{}))

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)

	_, err = c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.ErrorIs(t, err, ErrRunActive)

	close(gate)
	waitNotRunning(t, c)

	// The slot is free again once the worker drains.
	_, err = c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)
	waitNotRunning(t, c)
}

func TestStopWithoutRun(t *testing.T) {
	t.Parallel()

	c := NewController(ControllerConfig{}, &fakeFactory{}, &fakeSaver{}, WithSleeper(nopSleeper{}))
	require.ErrorIs(t, c.Stop(), ErrNoActiveRun)
}

func TestStopEndsRun(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{texts: []string{"results"}, hrefs: []string{"https://a.example/1.pdf"}})
	recorder := &fakeRecorder{}
	sleeper := &gateSleeper{entered: make(chan struct{})}

	c := NewController(
		ControllerConfig{DownloadRoot: t.TempDir(), Collector: CollectorConfig{MaxPages: 2}},
		&fakeFactory{fetcher: fetcher},
		&fakeSaver{},
		WithSleeper(sleeper),
		WithRecorder(recorder),
	)

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw one", "kw two"}}})
	require.NoError(t, err)

	<-sleeper.entered
	require.NoError(t, c.Stop())

	snap := waitNotRunning(t, c)
	require.Equal(t, StoppedByUser, snap.Error)

	require.Eventually(t, func() bool {
		status, _ := recorder.finished()
		return status == "stopped"
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, fetcher.isClosed())
}

// blockingNavFetcher parks in Navigate until the session is released, the way
// a browser does mid page load.
type blockingNavFetcher struct {
	navEntered chan struct{}
	released   chan struct{}
	enterOnce  sync.Once
	closeOnce  sync.Once

	mu     sync.Mutex
	closed bool
}

func newBlockingNavFetcher() *blockingNavFetcher {
	return &blockingNavFetcher{
		navEntered: make(chan struct{}),
		released:   make(chan struct{}),
	}
}

func (f *blockingNavFetcher) Navigate(ctx context.Context, _ string) error {
	f.enterOnce.Do(func() { close(f.navEntered) })
	select {
	case <-f.released:
		return errors.New("session closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *blockingNavFetcher) IsResponsive(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *blockingNavFetcher) PageText(context.Context) (string, error) { return "", nil }

func (f *blockingNavFetcher) ScrollBottom(context.Context) error { return nil }

func (f *blockingNavFetcher) AnchorHrefs(context.Context) ([]string, error) { return nil, nil }

func (f *blockingNavFetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.released) })
}

func TestStopDuringNavigationRecordsStopped(t *testing.T) {
	t.Parallel()

	fetcher := newBlockingNavFetcher()
	recorder := &fakeRecorder{}
	publisher := &fakePublisher{}

	c := NewController(
		ControllerConfig{DownloadRoot: t.TempDir()},
		&fakeFactory{fetcher: fetcher},
		&fakeSaver{},
		WithSleeper(nopSleeper{}),
		WithRecorder(recorder),
		WithPublisher(publisher),
	)

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)

	<-fetcher.navEntered
	require.NoError(t, c.Stop())

	snap := waitNotRunning(t, c)
	require.Equal(t, StoppedByUser, snap.Error)

	// The forced session release must not masquerade as a fetcher failure.
	require.Eventually(t, func() bool {
		status, _ := recorder.finished()
		return status != ""
	}, 5*time.Second, 10*time.Millisecond)
	status, errText := recorder.finished()
	require.Equal(t, "stopped", status)
	require.Equal(t, StoppedByUser, errText)

	require.Eventually(t, func() bool {
		_, payloads := publisher.published()
		return len(payloads) == 1
	}, 5*time.Second, 10*time.Millisecond)
	_, payloads := publisher.published()
	summary, ok := payloads[0].(RunSummary)
	require.True(t, ok)
	require.Equal(t, "stopped", summary.Status)
}

func TestResumeWithoutRun(t *testing.T) {
	t.Parallel()

	c := NewController(ControllerConfig{}, &fakeFactory{}, &fakeSaver{}, WithSleeper(nopSleeper{}))
	require.ErrorIs(t, c.Resume(), ErrNoActiveRun)
}

func TestResumeWithoutChallenge(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	factory := &fakeFactory{
		fetcher: newScriptedFetcher(fakePage{texts: []string{"results"}}),
		gate:    gate,
	}
	c := NewController(ControllerConfig{DownloadRoot: t.TempDir()}, factory, &fakeSaver{}, WithSleeper(nopSleeper{}))

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)

	require.ErrorIs(t, c.Resume(), ErrNoChallenge)

	close(gate)
	waitNotRunning(t, c)
}

func TestResumeReleasesChallenge(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		fakePage{texts: []string{"please complete the captcha"}},
		fakePage{texts: []string{"results"}, hrefs: []string{"https://a.example/1.pdf"}},
	)
	c := NewController(
		ControllerConfig{
			DownloadRoot: t.TempDir(),
			Collector:    CollectorConfig{MaxPages: 1, ChallengePoll: 5 * time.Millisecond},
		},
		&fakeFactory{fetcher: fetcher},
		&fakeSaver{},
		WithSleeper(nopSleeper{}),
	)

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Status().CaptchaDetected
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Resume())

	snap := waitNotRunning(t, c)
	require.False(t, snap.CaptchaDetected)
	require.Equal(t, 1, snap.Results["f"][0].DownloadedCount)
}

func TestOpenFailureFailsRun(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	c := NewController(
		ControllerConfig{DownloadRoot: t.TempDir()},
		&fakeFactory{err: errors.New("browser did not start")},
		&fakeSaver{},
		WithSleeper(nopSleeper{}),
		WithRecorder(recorder),
	)

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)

	snap := waitNotRunning(t, c)
	require.Contains(t, snap.Error, "failed to open page fetcher")

	require.Eventually(t, func() bool {
		status, _ := recorder.finished()
		return status == "failed"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDeadFetcherFailsRun(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{texts: []string{"results"}})
	fetcher.alive = false

	c := NewController(
		ControllerConfig{DownloadRoot: t.TempDir()},
		&fakeFactory{fetcher: fetcher},
		&fakeSaver{},
		WithSleeper(nopSleeper{}),
	)

	_, err := c.Start([]FieldRequest{{Name: "f", Keywords: []string{"kw"}}})
	require.NoError(t, err)

	snap := waitNotRunning(t, c)
	require.Contains(t, snap.Error, "download process stopped")
}

func TestRunOptionCapsCandidates(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{texts: []string{"results"}, hrefs: []string{
		"https://a.example/1.pdf",
		"https://a.example/2.pdf",
		"https://a.example/3.pdf",
	}})
	c := NewController(
		ControllerConfig{DownloadRoot: t.TempDir(), Collector: CollectorConfig{MaxPages: 1}},
		&fakeFactory{fetcher: fetcher},
		&fakeSaver{},
		WithSleeper(nopSleeper{}),
	)

	_, err := c.Start(
		[]FieldRequest{{Name: "f", Keywords: []string{"kw"}}},
		WithMaxCandidates(1),
	)
	require.NoError(t, err)

	snap := waitNotRunning(t, c)
	require.Equal(t, 1, snap.Results["f"][0].TotalURLsFound)
}
