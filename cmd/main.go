package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/veyra/demandlens/internal/adapters/dataset"
	"github.com/veyra/demandlens/internal/adapters/http/ops"
	"github.com/veyra/demandlens/internal/adapters/repository"
	"github.com/veyra/demandlens/internal/app"
	"github.com/veyra/demandlens/internal/config"
	"github.com/veyra/demandlens/internal/domain/model"
	"github.com/veyra/demandlens/internal/domain/period"
	"github.com/veyra/demandlens/internal/domain/sensitivity"
	"github.com/veyra/demandlens/pkg/logger"
)

// Ops server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()

	// Root context cancels on SIGINT/SIGTERM; stages abort between tasks.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", logger.Error(err))
		return 1
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if cfg.InputPath == "" {
		log.Error(ctx, "input_path is required (set DLENS_INPUT_PATH or the config file)")
		return 1
	}

	// Validated by config.Load; parse cannot fail here.
	granularity, _ := period.Parse(cfg.PeriodGranularity)
	targetMetric, _ := sensitivity.ParseTargetMetric(cfg.TargetMetric)

	store, err := openStore(cfg)
	if err != nil {
		log.Error(ctx, "failed to open store", logger.Error(err))
		return 1
	}

	svc := app.New(
		app.WithStore(store),
		app.WithLogger(log.Named("app")),
		app.WithGranularity(granularity),
		app.WithTrailingWindow(cfg.TrailingWindowPeriods),
		app.WithShockThreshold(cfg.ShockThresholdStd),
		app.WithRatingDropThreshold(cfg.RatingDropThreshold),
		app.WithPrePostWindow(cfg.PrePostWindowPeriods),
		app.WithMatchNeighbors(cfg.MatchNeighbors),
		app.WithBootstrapResamples(cfg.BootstrapResamples),
		app.WithBootstrapSeed(cfg.BootstrapSeed),
		app.WithTargetMetric(targetMetric),
		app.WithEffectThresholds(cfg.SmallEffectMax, cfg.LargeEffectMin),
		app.WithMinLabelEstimates(cfg.MinLabelEstimates),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
	)
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn(ctx, "store close failed", logger.Error(err))
		}
	}()

	srv := startOpsServer(ctx, cfg.MetricsAddr, log)
	if srv != nil {
		defer stopOpsServer(srv, log)
	}

	ingested, err := loadFeed(ctx, cfg, svc)
	if err != nil {
		// Malformed input is process-fatal: upstream must fix the feed.
		log.Error(ctx, "feed load failed", logger.String("input", cfg.InputPath), logger.Error(err))
		return 1
	}
	log.Info(ctx, "feed loaded", logger.String("input", cfg.InputPath), logger.Int("records", ingested))

	summary, err := svc.Run(ctx)
	if err != nil {
		log.Error(ctx, "batch run failed", logger.Error(err))
		return 1
	}

	if err := writeOutputs(ctx, cfg, svc); err != nil {
		log.Error(ctx, "failed to write outputs", logger.Error(err))
		return 1
	}

	log.Info(ctx, "done",
		logger.Int("products", summary.Products),
		logger.Int("signals", summary.Signals),
		logger.Int("estimates", summary.Estimates),
		logger.Int("labels_withheld", summary.LabelsWithheld),
		logger.Any("shocks_by_type", summary.ShocksByType),
		logger.Any("skips_by_reason", summary.SkipsByReason),
		logger.Any("labels_by_value", summary.LabelsByValue),
	)
	return 0
}

// openStore selects SQLite when results_db is set, in-memory otherwise.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.ResultsDB == "" {
		return repository.NewMemoryStore(), nil
	}
	return repository.NewSQLiteStore(cfg.ResultsDB)
}

// startOpsServer serves /healthz and /metrics while the batch runs. A nil
// return means the listener is disabled.
func startOpsServer(ctx context.Context, addr string, log logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	ops.NewServer().Register(mux)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		log.Info(ctx, "ops listener started", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "ops listener failed", logger.Error(err))
		}
	}()
	return srv
}

func stopOpsServer(srv *http.Server, log logger.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "ops listener shutdown failed", logger.Error(err))
	}
}

// recordSource streams one feed's records.
type recordSource interface {
	Next() (model.ReviewRecord, error)
}

// loadFeed streams the configured feed into the service. The first
// malformed record aborts the load with its position in the feed.
func loadFeed(ctx context.Context, cfg *config.Config, svc *app.Service) (int, error) {
	input, err := os.Open(cfg.InputPath)
	if err != nil {
		return 0, fmt.Errorf("open feed: %w", err)
	}
	defer func() { _ = input.Close() }()

	format, err := dataset.ParseFormat(cfg.InputFormat)
	if err != nil {
		return 0, err
	}

	var source recordSource
	switch format {
	case dataset.FormatJSONL:
		source = dataset.NewRecordReader(input)
	case dataset.FormatCSV:
		var products io.Reader
		if cfg.ProductsPath != "" {
			f, err := os.Open(cfg.ProductsPath)
			if err != nil {
				return 0, fmt.Errorf("open products join: %w", err)
			}
			defer func() { _ = f.Close() }()
			products = f
		}
		source, err = dataset.NewReviewCSVReader(input, products)
		if err != nil {
			return 0, fmt.Errorf("open csv feed: %w", err)
		}
	}

	var ingested int
	for {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}
		rec, err := source.Next()
		if errors.Is(err, io.EOF) {
			return ingested, nil
		}
		if err != nil {
			return ingested, err
		}
		if err := svc.Ingest(ctx, rec); err != nil {
			return ingested, err
		}
		ingested++
	}
}

// writeOutputs emits the run's JSONL files into output_dir.
func writeOutputs(ctx context.Context, cfg *config.Config, svc *app.Service) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	labels, err := svc.LatestLabels(ctx)
	if err != nil {
		return fmt.Errorf("collect labels: %w", err)
	}

	outputs := []struct {
		name    string
		enabled bool
		write   func(io.Writer) error
	}{
		{"estimates.jsonl", true, func(w io.Writer) error { return dataset.WriteEstimatesJSONL(w, svc.Estimates()) }},
		{"skips.jsonl", true, func(w io.Writer) error { return dataset.WriteSkipsJSONL(w, svc.Skips()) }},
		{"labels.jsonl", true, func(w io.Writer) error { return dataset.WriteLabelsJSONL(w, labels) }},
		{"signals.jsonl", cfg.EmitSignals, func(w io.Writer) error { return dataset.WriteSignalsJSONL(w, svc.Signals()) }},
		{"shocks.jsonl", cfg.EmitShocks, func(w io.Writer) error { return dataset.WriteShocksJSONL(w, svc.Shocks()) }},
	}
	for _, out := range outputs {
		if !out.enabled {
			continue
		}
		if err := writeFile(filepath.Join(cfg.OutputDir, out.name), out.write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}
