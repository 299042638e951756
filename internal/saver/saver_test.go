package saver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/docs/report.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake body"))
	})
	mux.HandleFunc("/docs/missing.pdf", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSaveWritesFile(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	dir := t.TempDir()
	s := New(Config{RequestTimeout: 5 * time.Second}, nil)

	outcome, err := s.Save(context.Background(), srv.URL+"/docs/report.pdf", dir)
	require.NoError(t, err)
	require.Equal(t, harvest.Saved, outcome)

	body, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 fake body", string(body))
}

func TestSaveSkipsExistingFile(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	dir := t.TempDir()
	dest := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(dest, []byte("original"), 0o640))

	s := New(Config{}, nil)
	outcome, err := s.Save(context.Background(), srv.URL+"/docs/report.pdf", dir)
	require.NoError(t, err)
	require.Equal(t, harvest.SaveSkipped, outcome)

	// The existing file is never overwritten.
	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "original", string(body))
}

func TestSaveFailsOnHTTPError(t *testing.T) {
	t.Parallel()

	srv := testServer(t)
	s := New(Config{}, nil)

	outcome, err := s.Save(context.Background(), srv.URL+"/docs/missing.pdf", t.TempDir())
	require.Equal(t, harvest.SaveFailed, outcome)
	require.ErrorContains(t, err, "status 404")
}

func TestSaveFailsOnTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	s := New(Config{RequestTimeout: time.Second}, nil)
	outcome, err := s.Save(context.Background(), srv.URL+"/docs/report.pdf", t.TempDir())
	require.Equal(t, harvest.SaveFailed, outcome)
	require.Error(t, err)
}

func TestSaveSendsUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		_, _ = w.Write([]byte("body"))
	}))
	t.Cleanup(srv.Close)

	s := New(Config{UserAgent: "pdfharvest-test/1.0"}, nil)
	outcome, err := s.Save(context.Background(), srv.URL+"/a.pdf", t.TempDir())
	require.NoError(t, err)
	require.Equal(t, harvest.Saved, outcome)
	require.Equal(t, "pdfharvest-test/1.0", gotUA)
}

func TestFilenameFromURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rawURL  string
		want    string
		wantErr bool
	}{
		{name: "plain", rawURL: "https://a.example/docs/report.pdf", want: "report.pdf"},
		{name: "query ignored", rawURL: "https://a.example/report.pdf?dl=1", want: "report.pdf"},
		{name: "percent decoded", rawURL: "https://a.example/annual%20report.pdf", want: "annual report.pdf"},
		{name: "decoded separator stripped", rawURL: "https://a.example/..%2F..%2Fetc%2Fpasswd.pdf", want: "passwd.pdf"},
		{name: "no path", rawURL: "https://a.example/", wantErr: true},
		{name: "empty", rawURL: "", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := FilenameFromURL(tc.rawURL)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
