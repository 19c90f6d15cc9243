package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meterflow/meterflow/cmd/pipeline/config"
	"github.com/meterflow/meterflow/cmd/pipeline/logger"
	"github.com/meterflow/meterflow/cmd/pipeline/metrics"
	"github.com/meterflow/meterflow/cmd/pipeline/router"
	"github.com/meterflow/meterflow/pkg/enrich"
	"github.com/meterflow/meterflow/pkg/ensemble"
	"github.com/meterflow/meterflow/pkg/features"
	"github.com/meterflow/meterflow/pkg/source"
	"github.com/meterflow/meterflow/pkg/storage"
)

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting meterflow pipeline",
		"raw_dir", cfg.RawDir,
		"out_dir", cfg.OutDir,
		"chunk_size", cfg.ChunkSize,
		"sample_rate", cfg.SampleRate,
	)

	m := metrics.New()

	store, err := storage.New(cfg.OutDir, log)
	if err != nil {
		log.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	metadata, err := source.LoadMetadata(cfg.MetadataPath)
	if err != nil {
		log.Error("failed to load metadata", "error", err)
		os.Exit(1)
	}
	weather, err := source.LoadWeather(cfg.WeatherPath)
	if err != nil {
		log.Error("failed to load weather", "error", err)
		os.Exit(1)
	}
	enricher, err := enrich.New(metadata, weather)
	if err != nil {
		log.Error("failed to index reference tables", "error", err)
		os.Exit(1)
	}
	log.Info("loaded reference tables", "buildings", len(metadata), "weather_rows", len(weather))

	engineer := features.New(cfg.RollingWindow, cfg.Epsilon)
	ens := ensemble.New(
		ensemble.Detectors(cfg.ContaminationForest, cfg.ContaminationLOF, cfg.ContaminationEnvelope, cfg.Seed),
		nil,
		log,
	)

	pipeline := NewPipeline(cfg, store, enricher, engineer, ens, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := router.SetupRoutes[Summary](pipeline, log)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("status server listening", "address", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	runErr := pipeline.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("status server shutdown failed", "error", err)
	}

	if runErr != nil {
		log.Error("pipeline run failed", "error", runErr)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
