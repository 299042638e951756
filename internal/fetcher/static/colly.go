// Package static implements the page-fetching capability with plain HTTP via
// gocolly, no JavaScript rendering. It suits result providers that serve
// complete markup; scrolling is a no-op because nothing renders lazily.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

// Config controls the HTTP session.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Session implements harvest.PageFetcher over a colly collector. One Session
// serves one run, mirroring the exclusive ownership of the browser session.
type Session struct {
	cfg       Config
	collector *colly.Collector

	mu       sync.Mutex
	lastBody []byte
	lastURL  *url.URL
	closed   bool
}

// Factory opens Sessions; it satisfies harvest.FetcherFactory.
type Factory struct {
	cfg Config
}

// NewFactory returns a Factory for the given config.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg}
}

// Open creates a fresh Session.
func (f *Factory) Open(_ context.Context) (harvest.PageFetcher, error) {
	return NewSession(f.cfg), nil
}

// NewSession builds a Session.
func NewSession(cfg Config) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	// Challenge interstitials come back with 4xx/5xx statuses; their body
	// still has to reach the detector.
	c.ParseHTTPErrorResponse = true

	s := &Session{cfg: cfg, collector: c}
	c.OnResponse(func(r *colly.Response) {
		s.mu.Lock()
		s.lastBody = append([]byte(nil), r.Body...)
		if r.Request != nil {
			s.lastURL = r.Request.URL
		}
		s.mu.Unlock()
	})
	return s
}

// Navigate fetches the page and retains its body for the accessors.
func (s *Session) Navigate(_ context.Context, target string) error {
	if s.isClosed() {
		return fmt.Errorf("session closed")
	}
	s.mu.Lock()
	s.lastBody = nil
	s.mu.Unlock()
	if err := s.collector.Visit(target); err != nil {
		// A response body may still have been captured (error statuses are
		// parsed); the caller decides via PageText.
		if !s.hasBody() {
			return fmt.Errorf("visit %s: %w", target, err)
		}
	}
	return nil
}

// IsResponsive reports whether the session is still usable. Plain HTTP has no
// external process to lose, so only Close makes it unresponsive.
func (s *Session) IsResponsive(_ context.Context) bool {
	return !s.isClosed()
}

// PageText returns the body of the last fetched page.
func (s *Session) PageText(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("session closed")
	}
	return string(s.lastBody), nil
}

// ScrollBottom is a no-op: static markup has nothing left to render.
func (s *Session) ScrollBottom(_ context.Context) error {
	return nil
}

// AnchorHrefs parses the last page and returns every anchor href, resolved
// against the page URL so relative links become absolute.
func (s *Session) AnchorHrefs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	body := s.lastBody
	base := s.lastURL
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("session closed")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		hrefs = append(hrefs, href)
	})
	return hrefs, nil
}

// Close marks the session unusable. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) hasBody() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lastBody) > 0
}
