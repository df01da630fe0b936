package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/api"
	"koi-classifier/internal/archive"
	"koi-classifier/internal/batch"
	"koi-classifier/internal/catalog"
	"koi-classifier/internal/cfg"
	"koi-classifier/internal/metrics"
	"koi-classifier/internal/ml"
	"koi-classifier/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	predictor := initializePredictor(c, m, mw)
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	runCfg := batch.RunnerConfig{Metrics: mw, MaxRows: c.MaxBatchRows}
	deps := api.Deps{
		Predictor: predictor,
		Archive:   archive.NewClient(c.ArchiveURL, c.SkyViewURL, c.ArchiveTimeout, mw),
		Catalog:   catalog.Load(c.CatalogPath),
		Metrics:   mw,
	}
	if store != nil {
		runCfg.Store = store
		deps.Runs = store
	}
	runner, err := batch.NewRunner(predictor, runCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("batch runner init failed")
	}
	deps.Runner = runner

	server, err := api.NewServer(api.Config{
		Port:           c.ListenPort,
		AllowedOrigins: c.AllowedOrigins,
		MaxUploadBytes: c.MaxUploadBytes,
		MaxBatchRows:   c.MaxBatchRows,
	}, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("server init failed")
	}

	var wg sync.WaitGroup
	startServer(ctx, cancel, &wg, server, c.ShutdownTimeout)
	startBundleAgeReporter(ctx, &wg, predictor.Bundle(), mw)

	waitForShutdown(ctx, cancel, &wg, c.ShutdownTimeout)
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// initializePredictor loads the bundle once. A bundle that cannot be loaded
// stops the service.
func initializePredictor(c cfg.Settings, m *metrics.Metrics, mw *metrics.MetricsWrapper) *ml.Predictor {
	dir, err := ml.ResolveBundleDir(c.ModelPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", c.ModelPath).Msg("model bundle not found")
	}
	bundle, err := ml.LoadBundle(dir)
	if err != nil {
		log.Fatal().Err(err).Msg("model bundle load failed")
	}

	schema, err := c.Schema()
	if err != nil {
		log.Fatal().Err(err).Msg("feature schema invalid")
	}
	predictor, err := ml.NewPredictor(bundle, ml.PredictorConfig{Schema: schema, Mode: c.StatsMode}, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("predictor init failed")
	}

	m.SetBundle(bundle.Version(), bundle.Age().Seconds())
	log.Info().
		Str("bundle", bundle.Version()).
		Str("dir", dir).
		Str("stats_mode", string(predictor.Mode())).
		Strs("required", schema.Required()).
		Msg("Predictor ready")
	return predictor
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
			return nil
		}
		return store
	}
	return nil
}

func startServer(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, server *api.Server, timeout time.Duration) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), timeout)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown server")
			}
		}()

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			cancel()
		}
	}()
}

func startBundleAgeReporter(ctx context.Context, wg *sync.WaitGroup, bundle *ml.Bundle, mw *metrics.MetricsWrapper) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mw.BundleAgeSet(bundle.Age().Seconds())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, timeout time.Duration) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(timeout):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
