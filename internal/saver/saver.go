// Package saver downloads candidate document URLs to the local filesystem.
package saver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
	"github.com/pdfharvest/pdfharvest/internal/hash/sha256"
	"github.com/pdfharvest/pdfharvest/internal/policy/ratelimit"
)

// Config controls download behavior.
type Config struct {
	// RequestTimeout bounds each download request.
	RequestTimeout time.Duration
	// UserAgent is sent on every request when non-empty.
	UserAgent string
	// PerHostRPS caps request rate per destination host. Zero means no cap;
	// the randomized inter-request delays still apply upstream.
	PerHostRPS   float64
	PerHostBurst int
}

// Saver retrieves document bytes over HTTP and persists them under the
// keyword directory. Existence of the destination file is the only
// deduplication: files are never overwritten.
type Saver struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	limiter *ratelimit.Limiter
}

// New builds a Saver. A nil logger falls back to a nop logger.
func New(cfg Config, logger *zap.Logger) *Saver {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.PerHostRPS,
			DefaultBurst: cfg.PerHostBurst,
		}),
	}
}

// Save downloads rawURL into dir. A transport error or non-200 status is a
// SaveFailed outcome, never a hard failure; the returned error only carries
// detail for logging. An existing destination file short-circuits to
// SaveSkipped before any network traffic.
func (s *Saver) Save(ctx context.Context, rawURL, dir string) (harvest.SaveOutcome, error) {
	filename, err := FilenameFromURL(rawURL)
	if err != nil {
		return harvest.SaveFailed, fmt.Errorf("derive filename: %w", err)
	}
	dest := filepath.Join(dir, filename)

	if _, err := os.Stat(dest); err == nil {
		s.logger.Debug("already exists, skipping", zap.String("path", dest))
		return harvest.SaveSkipped, nil
	}

	if err := s.limiter.Wait(ctx, rawURL); err != nil {
		return harvest.SaveFailed, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return harvest.SaveFailed, fmt.Errorf("build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return harvest.SaveFailed, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("response body close failed", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return harvest.SaveFailed, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return harvest.SaveSkipped, nil
		}
		return harvest.SaveFailed, fmt.Errorf("create %s: %w", dest, err)
	}

	digest := sha256.NewDigest()
	n, err := io.Copy(io.MultiWriter(out, digest), resp.Body)
	if err != nil {
		_ = out.Close()
		// A partial file would be mistaken for a completed download on the
		// next run, so remove it.
		_ = os.Remove(dest)
		return harvest.SaveFailed, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return harvest.SaveFailed, fmt.Errorf("close %s: %w", dest, err)
	}

	s.logger.Info("saved",
		zap.String("path", dest),
		zap.Int64("bytes", n),
		zap.String("sha256", digest.Hex()),
	)
	return harvest.Saved, nil
}

// FilenameFromURL derives the destination filename: the URL's final path
// segment, percent-decoded. Decoded separators are stripped so a crafted URL
// cannot escape the keyword directory.
func FilenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	segment := path.Base(u.Path)
	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}
	segment = filepath.Base(segment)
	if segment == "" || segment == "." || segment == "/" {
		return "", fmt.Errorf("no usable filename in %q", rawURL)
	}
	return segment, nil
}
