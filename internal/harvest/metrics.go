package harvest

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchPagesTotal     *prometheus.CounterVec
	challengesTotal      prometheus.Counter
	candidatesPerKeyword prometheus.Histogram
	downloadsTotal       *prometheus.CounterVec
	runsTotal            *prometheus.CounterVec
	activeRun            prometheus.Gauge

	metricsOnce sync.Once
)

// InitMetrics registers the Prometheus collectors. Safe to call repeatedly.
func InitMetrics() {
	metricsOnce.Do(func() {
		searchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfharvest_search_pages_total",
				Help: "Result pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		challengesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pdfharvest_challenges_total",
				Help: "Anti-automation challenges encountered during pagination.",
			},
		)
		candidatesPerKeyword = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdfharvest_candidates_per_keyword",
				Help:    "Candidate URLs collected per keyword.",
				Buckets: []float64{0, 5, 10, 25, 50, 100, 200, 400},
			},
		)
		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfharvest_downloads_total",
				Help: "Candidate download attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdfharvest_runs_total",
				Help: "Completed runs, labeled by terminal status.",
			},
			[]string{"status"},
		)
		activeRun = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdfharvest_active_run",
				Help: "1 while a run is in flight.",
			},
		)
	})
}

func observePageFetch(ok bool) {
	if searchPagesTotal == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	searchPagesTotal.WithLabelValues(outcome).Inc()
}

func observeChallenge() {
	if challengesTotal != nil {
		challengesTotal.Inc()
	}
}

func observeCandidates(n int) {
	if candidatesPerKeyword != nil {
		candidatesPerKeyword.Observe(float64(n))
	}
}

// ObserveDownload records one save attempt; the saver package calls it so the
// counter covers CLI and server runs alike.
func ObserveDownload(outcome SaveOutcome) {
	if downloadsTotal != nil {
		downloadsTotal.WithLabelValues(outcome.String()).Inc()
	}
}

func observeRunDone(status string) {
	if runsTotal != nil {
		runsTotal.WithLabelValues(status).Inc()
	}
}

func setActiveRun(active bool) {
	if activeRun == nil {
		return
	}
	if active {
		activeRun.Set(1)
	} else {
		activeRun.Set(0)
	}
}
