package harvest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopSleeper struct{}

func (nopSleeper) Sleep(context.Context, time.Duration, time.Duration) {}

// fakePage scripts one Navigate target: successive PageText calls walk texts
// (the last entry repeats), AnchorHrefs returns hrefs.
type fakePage struct {
	navErr error
	texts  []string
	hrefs  []string
}

type scriptedFetcher struct {
	mu      sync.Mutex
	pages   []fakePage
	navIdx  int
	textIdx int
	visited []string
	alive   bool
	closed  bool
}

func newScriptedFetcher(pages ...fakePage) *scriptedFetcher {
	return &scriptedFetcher{pages: pages, alive: true}
}

func (f *scriptedFetcher) current() fakePage {
	idx := f.navIdx - 1
	if idx >= len(f.pages) {
		idx = len(f.pages) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return f.pages[idx]
}

func (f *scriptedFetcher) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visited = append(f.visited, url)
	f.navIdx++
	f.textIdx = 0
	return f.current().navErr
}

func (f *scriptedFetcher) IsResponsive(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *scriptedFetcher) PageText(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := f.current().texts
	if len(texts) == 0 {
		return "", nil
	}
	idx := f.textIdx
	if idx >= len(texts) {
		idx = len(texts) - 1
	}
	f.textIdx++
	return texts[idx], nil
}

func (f *scriptedFetcher) ScrollBottom(context.Context) error { return nil }

func (f *scriptedFetcher) AnchorHrefs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current().hrefs, nil
}

func (f *scriptedFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
}

func (f *scriptedFetcher) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *scriptedFetcher) visitedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.visited...)
}

func testCollector(cfg CollectorConfig, fetcher PageFetcher) (*Collector, *controlFlags, *runState) {
	flags := &controlFlags{}
	state := newRunState()
	state.begin("run-test", time.Now())
	return NewCollector(cfg, fetcher, nil, nopSleeper{}, flags, state, nil, nil), flags, state
}

func TestCollectGathersUniquePDFLinks(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{
		texts: []string{"results page"},
		hrefs: []string{
			"https://a.example/paper.pdf",
			"https://a.example/paper.pdf",
			"https://b.example/report.pdf",
			"https://c.example/page.html",
			"https://d.example/slides.pptx",
		},
	})
	c, _, _ := testCollector(CollectorConfig{MaxPages: 1}, fetcher)

	urls, err := c.Collect(context.Background(), "machine learning")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"https://a.example/paper.pdf",
		"https://b.example/report.pdf",
	}, urls)
}

func TestCollectHonorsCandidateCap(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{
		texts: []string{"results"},
		hrefs: []string{
			"https://x.example/1.pdf",
			"https://x.example/2.pdf",
			"https://x.example/3.pdf",
			"https://x.example/4.pdf",
		},
	})
	c, _, _ := testCollector(CollectorConfig{MaxCandidates: 2, MaxPages: 3}, fetcher)

	urls, err := c.Collect(context.Background(), "kw")
	require.NoError(t, err)
	require.Len(t, urls, 2)
	// The cap also ends pagination: one page was enough.
	require.Len(t, fetcher.visitedURLs(), 1)
}

func TestCollectWalksResultPages(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		fakePage{texts: []string{"page one"}, hrefs: []string{"https://a.example/1.pdf"}},
		fakePage{texts: []string{"page two"}, hrefs: []string{"https://a.example/2.pdf"}},
	)
	c, _, _ := testCollector(CollectorConfig{MaxPages: 2, PageSize: 10}, fetcher)

	urls, err := c.Collect(context.Background(), "deep learning")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"https://a.example/1.pdf", "https://a.example/2.pdf"}, urls)

	visited := fetcher.visitedURLs()
	require.Len(t, visited, 2)
	require.NotContains(t, visited[0], "start=")
	require.Contains(t, visited[1], "start=10")
	require.Contains(t, visited[0], "filetype%3Apdf")
}

func TestCollectNavErrorEndsKeywordKeepingPartial(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		fakePage{texts: []string{"ok"}, hrefs: []string{"https://a.example/1.pdf"}},
		fakePage{navErr: context.DeadlineExceeded},
	)
	c, _, _ := testCollector(CollectorConfig{MaxPages: 3}, fetcher)

	urls, err := c.Collect(context.Background(), "kw")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/1.pdf"}, urls)
}

func TestCollectDeadFetcherIsFatal(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{texts: []string{"ok"}})
	fetcher.alive = false
	c, _, _ := testCollector(CollectorConfig{MaxPages: 2}, fetcher)

	_, err := c.Collect(context.Background(), "kw")
	require.ErrorIs(t, err, ErrFetcherUnavailable)
}

func TestCollectChallengeResumeRefetchesSameOffset(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		fakePage{texts: []string{"please solve this captcha"}},
		fakePage{texts: []string{"clean results"}, hrefs: []string{"https://a.example/1.pdf"}},
	)
	cfg := CollectorConfig{MaxPages: 1, ChallengePoll: 5 * time.Millisecond}
	c, flags, state := testCollector(cfg, fetcher)

	// Operator resume is already pending when the challenge appears.
	flags.requestResume()

	urls, err := c.Collect(context.Background(), "kw")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/1.pdf"}, urls)

	visited := fetcher.visitedURLs()
	require.Len(t, visited, 2)
	require.Equal(t, visited[0], visited[1], "re-fetch must hit the same offset")

	snap := state.snapshot()
	require.False(t, snap.CaptchaDetected)
	require.False(t, snap.DownloadPaused)
}

func TestCollectChallengeClearsOnItsOwn(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(
		fakePage{texts: []string{"unusual traffic from your network", "normal results now"}},
		fakePage{texts: []string{"normal results"}, hrefs: []string{"https://a.example/2.pdf"}},
	)
	cfg := CollectorConfig{MaxPages: 1, ChallengePoll: 5 * time.Millisecond}
	c, _, state := testCollector(cfg, fetcher)

	urls, err := c.Collect(context.Background(), "kw")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example/2.pdf"}, urls)
	require.False(t, state.snapshot().CaptchaDetected)
}

func TestCollectStopDuringChallengeWait(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(fakePage{texts: []string{"i'm not a robot"}})
	cfg := CollectorConfig{MaxPages: 1, ChallengePoll: 5 * time.Millisecond}
	c, flags, _ := testCollector(cfg, fetcher)

	go func() {
		time.Sleep(20 * time.Millisecond)
		flags.requestStop()
	}()

	urls, err := c.Collect(context.Background(), "kw")
	require.NoError(t, err)
	require.Empty(t, urls)
}

func TestSearchURLQuotesKeyword(t *testing.T) {
	t.Parallel()

	c, _, _ := testCollector(CollectorConfig{SearchBaseURL: "https://search.example/s"}, newScriptedFetcher(fakePage{}))

	u := c.searchURL("post-quantum cryptography", 0)
	require.True(t, strings.HasPrefix(u, "https://search.example/s?q="))
	require.NotContains(t, u, " ")

	withOffset := c.searchURL("kw", 20)
	require.Contains(t, withOffset, "start=20")
}
