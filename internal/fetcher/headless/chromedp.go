// Package headless drives a real Chrome session via chromedp. Unlike a
// one-shot renderer, the session is long-lived: the collector issues many
// navigations against the same tab so an operator can solve a challenge in
// the visible browser window.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

// Config controls the browser session.
type Config struct {
	// Headless hides the browser window. Challenge solving needs a visible
	// window, so interactive deployments run with this off.
	Headless bool
	// UserAgent overrides the browser default when non-empty.
	UserAgent string
	// NavTimeout bounds each navigation when the caller's context carries no
	// deadline of its own.
	NavTimeout time.Duration
}

// Session implements harvest.PageFetcher over one Chrome tab.
type Session struct {
	cfg         Config
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc
	closeOnce   sync.Once
	closed      chan struct{}
}

// Factory opens Sessions; it satisfies harvest.FetcherFactory.
type Factory struct {
	cfg Config
}

// NewFactory returns a Factory for the given browser config.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// Open launches a browser session ready for navigation.
func (f *Factory) Open(ctx context.Context) (harvest.PageFetcher, error) {
	return NewSession(ctx, f.cfg)
}

// NewSession starts Chrome and opens a tab. The session must be closed by the
// caller; the controller force-releases it on stop.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		allocCancel: allocCancel,
		tab:         tabCtx,
		tabCancel:   tabCancel,
		closed:      make(chan struct{}),
	}

	// Start the browser now so a broken Chrome install fails Open, not the
	// first keyword.
	startCtx, cancel := context.WithTimeout(tabCtx, cfg.NavTimeout)
	defer cancel()
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if cfg.UserAgent == "" {
				return nil
			}
			if err := emulation.SetUserAgentOverride(cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
			return nil
		}),
		chromedp.Evaluate(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`, nil),
	}
	if err := chromedp.Run(startCtx, actions...); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

// Navigate loads url and waits for anchors to be present, bounded by the
// caller's deadline or the configured navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("a", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// IsResponsive probes the tab the way a liveness check would: by asking for
// the current location with a short deadline.
func (s *Session) IsResponsive(_ context.Context) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	probeCtx, cancel := context.WithTimeout(s.tab, 5*time.Second)
	defer cancel()
	var location string
	return chromedp.Run(probeCtx, chromedp.Location(&location)) == nil
}

// PageText returns the rendered document markup for challenge inspection.
func (s *Session) PageText(ctx context.Context) (string, error) {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return html, nil
}

// ScrollBottom forces lazy result content to render.
func (s *Session) ScrollBottom(ctx context.Context) error {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
	)
	if err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// AnchorHrefs returns every anchor href in the rendered DOM.
func (s *Session) AnchorHrefs(ctx context.Context) ([]string, error) {
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	var hrefs []string
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(`Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`, &hrefs),
	)
	if err != nil {
		return nil, fmt.Errorf("extract hrefs: %w", err)
	}
	return hrefs, nil
}

// Close tears down the tab and the browser process. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.tabCancel()
		s.allocCancel()
	})
}

// boundedCtx derives a run context from the tab that also respects the
// caller's cancellation. Canceling it aborts the in-flight actions, not the
// tab itself.
func (s *Session) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tab, s.cfg.NavTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
