package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/progress"
)

// ErrFetcherUnavailable signals that the page-fetching session died. The
// controller treats it as fatal for the whole run.
var ErrFetcherUnavailable = errors.New("page fetcher unavailable")

// CollectorConfig bounds a single keyword's pagination.
type CollectorConfig struct {
	// SearchBaseURL is the results endpoint, e.g. https://www.google.com/search.
	SearchBaseURL string
	// MaxCandidates caps the candidate set size per keyword.
	MaxCandidates int
	// MaxPages caps how many result pages are walked per keyword.
	MaxPages int
	// PageSize is the result-offset increment per page.
	PageSize int
	// PageLoadTimeout bounds each navigation.
	PageLoadTimeout time.Duration
	// ChallengePoll is how often a pending challenge is re-checked.
	ChallengePoll time.Duration
	// ScrollDelayMin/Max is the short pause after scrolling, before href
	// extraction. Deliberately shorter than the inter-page delay.
	ScrollDelayMin time.Duration
	ScrollDelayMax time.Duration
	// PageDelayMin/Max is the pause between result pages.
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.SearchBaseURL == "" {
		c.SearchBaseURL = "https://www.google.com/search"
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 200
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 3
	}
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 10 * time.Second
	}
	if c.ChallengePoll <= 0 {
		c.ChallengePoll = 2 * time.Second
	}
	if c.ScrollDelayMax <= 0 {
		c.ScrollDelayMin = 2 * time.Second
		c.ScrollDelayMax = 4 * time.Second
	}
	if c.PageDelayMax <= 0 {
		c.PageDelayMin = 3 * time.Second
		c.PageDelayMax = 6 * time.Second
	}
	return c
}

// Collector walks result pages for one keyword and accumulates unique
// candidate document URLs. It shares the run's control flags and status state
// so a challenge pauses the whole run and a stop is observed between fetches.
type Collector struct {
	cfg      CollectorConfig
	fetcher  PageFetcher
	detector Detector
	sleeper  Sleeper
	flags    *controlFlags
	state    *runState
	reporter *progressReporter
	logger   *zap.Logger
}

// NewCollector wires a Collector. The detector and sleeper fall back to the
// package defaults when nil; a nil reporter disables progress events.
func NewCollector(
	cfg CollectorConfig,
	fetcher PageFetcher,
	detector Detector,
	sleeper Sleeper,
	flags *controlFlags,
	state *runState,
	reporter *progressReporter,
	logger *zap.Logger,
) *Collector {
	if detector == nil {
		detector = NewChallengeDetector()
	}
	if sleeper == nil {
		sleeper = NewRandomSleeper()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:      cfg.withDefaults(),
		fetcher:  fetcher,
		detector: detector,
		sleeper:  sleeper,
		flags:    flags,
		state:    state,
		reporter: reporter,
		logger:   logger,
	}
}

// Collect paginates search results for keyword until the candidate cap, the
// page cap, a stop request, or a page-load failure ends the walk. It always
// returns whatever URLs were gathered; only a dead fetcher session is an
// error, and even then the partial set comes back with it.
func (c *Collector) Collect(ctx context.Context, keyword string) ([]string, error) {
	candidates := make(map[string]struct{})
	page := 0

	c.logger.Info("searching keyword", zap.String("keyword", keyword))

	for len(candidates) < c.cfg.MaxCandidates && page < c.cfg.MaxPages {
		if c.flags.stopRequested() {
			c.logger.Info("stop requested, ending collection", zap.String("keyword", keyword))
			break
		}

		target := c.searchURL(keyword, page*c.cfg.PageSize)

		navCtx, cancel := context.WithTimeout(ctx, c.cfg.PageLoadTimeout)
		navErr := c.fetcher.Navigate(navCtx, target)
		cancel()
		observePageFetch(navErr == nil)

		if !c.fetcher.IsResponsive(ctx) {
			return setToSlice(candidates), ErrFetcherUnavailable
		}
		if navErr != nil {
			// Timeouts abort this keyword only; the set built so far stands.
			c.logger.Warn("page load failed, ending collection",
				zap.String("keyword", keyword),
				zap.Int("page", page),
				zap.Error(navErr),
			)
			break
		}

		text, err := c.fetcher.PageText(ctx)
		if err != nil {
			if !c.fetcher.IsResponsive(ctx) {
				return setToSlice(candidates), ErrFetcherUnavailable
			}
			c.logger.Warn("page text unavailable", zap.Error(err))
			break
		}

		if c.detector.Detect(text) {
			if !c.awaitChallengeResolution(ctx) {
				break
			}
			// Re-fetch the same offset; the page counter does not advance.
			continue
		}

		if err := c.fetcher.ScrollBottom(ctx); err != nil {
			c.logger.Debug("scroll failed", zap.Error(err))
		}
		c.sleeper.Sleep(ctx, c.cfg.ScrollDelayMin, c.cfg.ScrollDelayMax)

		hrefs, err := c.fetcher.AnchorHrefs(ctx)
		if err != nil {
			if !c.fetcher.IsResponsive(ctx) {
				return setToSlice(candidates), ErrFetcherUnavailable
			}
			c.logger.Warn("href extraction failed", zap.Error(err))
			break
		}
		for _, href := range hrefs {
			if !strings.HasSuffix(href, ".pdf") {
				continue
			}
			if len(candidates) >= c.cfg.MaxCandidates {
				break
			}
			candidates[href] = struct{}{}
		}

		c.logger.Info("page scanned",
			zap.String("keyword", keyword),
			zap.Int("page", page),
			zap.Int("candidates", len(candidates)),
		)
		c.reporter.emit(progress.Event{
			Stage:      progress.StagePageDone,
			Keyword:    keyword,
			Page:       page,
			Candidates: len(candidates),
		})

		page++
		if len(candidates) >= c.cfg.MaxCandidates || page >= c.cfg.MaxPages {
			break
		}
		c.sleeper.Sleep(ctx, c.cfg.PageDelayMin, c.cfg.PageDelayMax)
	}

	observeCandidates(len(candidates))
	return setToSlice(candidates), nil
}

// awaitChallengeResolution parks the worker until the operator resumes, the
// challenge clears on its own, or a stop arrives. There is deliberately no
// timeout: a human has to act. Returns false when collection should end.
func (c *Collector) awaitChallengeResolution(ctx context.Context) bool {
	observeChallenge()
	c.state.setChallenge("CAPTCHA detected! Please solve it manually and click Resume.")
	c.logger.Warn("challenge detected, pausing run")
	c.reporter.emit(progress.Event{Stage: progress.StageChallenge})

	ticker := time.NewTicker(c.cfg.ChallengePoll)
	defer ticker.Stop()

	for {
		if c.flags.stopRequested() {
			return false
		}
		if c.flags.consumeResume() {
			c.state.clearChallenge()
			c.logger.Info("run resumed by operator")
			c.reporter.emit(progress.Event{Stage: progress.StageChallengeDone, Note: "operator resume"})
			return true
		}
		text, err := c.fetcher.PageText(ctx)
		if err == nil && !c.detector.Detect(text) {
			c.state.clearChallenge()
			c.logger.Info("challenge cleared on its own, resuming")
			c.reporter.emit(progress.Event{Stage: progress.StageChallengeDone, Note: "cleared"})
			return true
		}
		if err != nil && !c.fetcher.IsResponsive(ctx) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (c *Collector) searchURL(keyword string, offset int) string {
	query := url.QueryEscape(keyword + " filetype:pdf")
	if offset > 0 {
		return fmt.Sprintf("%s?q=%s&start=%d", c.cfg.SearchBaseURL, query, offset)
	}
	return fmt.Sprintf("%s?q=%s", c.cfg.SearchBaseURL, query)
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}
