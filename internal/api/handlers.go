package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

type startDownloadRequest struct {
	// Fields names entries from the configured catalog.
	Fields []string `json:"fields"`
	// CustomKeywords are searched under a synthetic "custom" field.
	CustomKeywords []string `json:"custom_keywords"`
	// MaxPDFs overrides the per-keyword candidate cap for this run.
	MaxPDFs *int `json:"max_pdfs"`
	// MaxPages overrides the result-page cap for this run.
	MaxPages *int `json:"max_pages"`
}

func (s *Server) startDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	fields := make([]harvest.FieldRequest, 0, len(req.Fields)+1)
	for _, name := range req.Fields {
		keywords, ok := s.cfg.Fields[name]
		if !ok {
			continue
		}
		fields = append(fields, harvest.FieldRequest{Name: name, Keywords: keywords})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	if len(req.CustomKeywords) > 0 {
		fields = append(fields, harvest.FieldRequest{Name: "custom", Keywords: req.CustomKeywords})
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "no fields or keywords selected")
		return
	}

	var opts []harvest.RunOption
	if req.MaxPDFs != nil {
		opts = append(opts, harvest.WithMaxCandidates(*req.MaxPDFs))
	}
	if req.MaxPages != nil {
		opts = append(opts, harvest.WithMaxPages(*req.MaxPages))
	}

	runID, err := s.controller.Start(fields, opts...)
	if err != nil {
		if errors.Is(err, harvest.ErrRunActive) {
			writeError(w, http.StatusConflict, "download already in progress")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "download started",
		"run_id":  runID,
	})
}

func (s *Server) stopDownload(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Stop(); err != nil {
		if errors.Is(err, harvest.ErrNoActiveRun) {
			writeError(w, http.StatusConflict, "no download in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "stop requested"})
}

func (s *Server) resumeDownload(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Resume(); err != nil {
		switch {
		case errors.Is(err, harvest.ErrNoActiveRun):
			writeError(w, http.StatusConflict, "no download in progress")
		case errors.Is(err, harvest.ErrNoChallenge):
			writeError(w, http.StatusConflict, "no verification pending")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "resume requested"})
}

func (s *Server) downloadStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) listFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Fields)
}

type keywordDownloads struct {
	Count int      `json:"count"`
	Files []string `json:"files"`
}

func (s *Server) listDownloads(w http.ResponseWriter, _ *http.Request) {
	root := s.cfg.Download.Root
	out := map[string]map[string]keywordDownloads{}

	fieldDirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, out)
			return
		}
		s.logger.Warn("list downloads failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list downloads")
		return
	}
	for _, fieldDir := range fieldDirs {
		if !fieldDir.IsDir() {
			continue
		}
		keywords := map[string]keywordDownloads{}
		keywordDirs, err := os.ReadDir(filepath.Join(root, fieldDir.Name()))
		if err != nil {
			continue
		}
		for _, keywordDir := range keywordDirs {
			if !keywordDir.IsDir() {
				continue
			}
			files := []string{}
			entries, err := os.ReadDir(filepath.Join(root, fieldDir.Name(), keywordDir.Name()))
			if err != nil {
				continue
			}
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".pdf") {
					files = append(files, entry.Name())
				}
			}
			keywords[keywordDir.Name()] = keywordDownloads{Count: len(files), Files: files}
		}
		out[fieldDir.Name()] = keywords
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request) {
	segments := make([]string, 0, 3)
	for _, param := range []string{"field", "keyword", "file"} {
		segment, ok := cleanSegment(chi.URLParam(r, param))
		if !ok {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		segments = append(segments, segment)
	}
	dest := filepath.Join(append([]string{s.cfg.Download.Root}, segments...)...)

	info, err := os.Stat(dest)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, dest)
}

// cleanSegment reduces a path parameter to a bare name so a crafted request
// cannot reach outside the download tree.
func cleanSegment(s string) (string, bool) {
	s = filepath.Base(strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." || s == string(filepath.Separator) {
		return "", false
	}
	return s, true
}

func (s *Server) showConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"max_pdfs_per_keyword":  s.cfg.Download.MaxPDFsPerKeyword,
		"max_pages_per_search":  s.cfg.Search.MaxPagesPerSearch,
		"headless_mode":         s.cfg.Browser.Headless,
		"browser_provider":      s.cfg.Browser.Provider,
		"scroll_delay_min_sec":  s.cfg.Search.ScrollDelayMinSec,
		"scroll_delay_max_sec":  s.cfg.Search.ScrollDelayMaxSec,
		"page_delay_min_sec":    s.cfg.Search.PageDelayMinSec,
		"page_delay_max_sec":    s.cfg.Search.PageDelayMaxSec,
		"keyword_delay_min_sec": s.cfg.Download.KeywordDelayMinSec,
		"keyword_delay_max_sec": s.cfg.Download.KeywordDelayMaxSec,
	})
}
