// Package app initializes and holds the long-lived services of the harvest
// service, acting as the composition root shared by the CLI commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/config"
	"github.com/pdfharvest/pdfharvest/internal/fetcher/headless"
	"github.com/pdfharvest/pdfharvest/internal/fetcher/static"
	"github.com/pdfharvest/pdfharvest/internal/harvest"
	"github.com/pdfharvest/pdfharvest/internal/logging"
	"github.com/pdfharvest/pdfharvest/internal/metrics"
	"github.com/pdfharvest/pdfharvest/internal/progress"
	"github.com/pdfharvest/pdfharvest/internal/progress/sinks"
	memorypublisher "github.com/pdfharvest/pdfharvest/internal/publisher/memory"
	"github.com/pdfharvest/pdfharvest/internal/saver"
	"github.com/pdfharvest/pdfharvest/internal/store"
	"github.com/pdfharvest/pdfharvest/internal/store/postgres"
)

// App holds the shared services: config, logger, the progress hub, the run
// history store, and the controller itself.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Controller *harvest.Controller
	Publisher  *memorypublisher.Publisher
	Hub        *progress.Hub

	pgStore *postgres.Store
}

// New loads configuration, builds every service, and wires the controller.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New("pdfharvest", cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics.Init()
	harvest.InitMetrics()

	a := &App{Config: cfg, Logger: logger}

	var factory harvest.FetcherFactory
	switch cfg.Browser.Provider {
	case "static":
		factory = static.NewFactory(cfg.StaticConfig())
	default:
		factory = headless.NewFactory(cfg.HeadlessConfig())
	}

	var recorder harvest.Recorder = store.NoOp{}
	if cfg.Store.Provider == "postgres" {
		pg, err := postgres.New(ctx, postgres.Config{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, fmt.Errorf("init run store: %w", err)
		}
		a.pgStore = pg
		recorder = pg
	}

	a.Publisher = memorypublisher.New()
	a.Hub = progress.NewHub(
		progress.Config{Logger: logger},
		sinks.NewLogSink(logger.Named("progress")),
	)

	a.Controller = harvest.NewController(
		cfg.ControllerConfig(),
		factory,
		saver.New(cfg.SaverConfig(), logger.Named("saver")),
		harvest.WithLogger(logger.Named("harvest")),
		harvest.WithDetector(harvest.NewChallengeDetector(cfg.Search.ExtraChallengeMarkers...)),
		harvest.WithRecorder(recorder),
		harvest.WithPublisher(a.Publisher),
		harvest.WithProgress(a.Hub),
	)

	return a, nil
}

// Close flushes and releases the shared services.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			a.Logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	_ = a.Logger.Sync()
}
