package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"defect-predictor/internal/cfg"
	"defect-predictor/internal/common"
	"defect-predictor/internal/metrics"
	"defect-predictor/internal/server"
	"defect-predictor/internal/service"
	"defect-predictor/internal/storage"
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	common.SetupLogging(c.LogLevel, c.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	mw := metrics.NewWrapper(m)
	svc := service.New(service.OptionsFromSettings(c), mw)
	loadModel(svc, c)
	logLatestRun(c)

	srv := server.New(svc, server.Config{
		Addr:         c.Addr(),
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		CORSOrigins:  c.CORSOrigins,
		Gatherer:     prometheus.DefaultGatherer,
	}, mw)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown server")
	}
	svc.Close()
	log.Info().
		Float64("prediction_error_rate", m.GetErrorRate(prometheus.DefaultGatherer)).
		Msg("shutdown complete")
}

// loadModel installs the artifact at c.ModelPath. A missing or broken artifact
// leaves the service unloaded; health still answers and predictions fail fast.
func loadModel(svc *service.Service, c cfg.Settings) {
	if _, err := os.Stat(c.ModelPath); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("model_path", c.ModelPath).Msg("model artifact not found, serving without a model")
		return
	}
	if err := svc.LoadFile(c.ModelPath); err != nil {
		log.Error().Err(err).Str("model_path", c.ModelPath).Msg("model load failed, serving without a model")
	}
}

// logLatestRun reports the training run the served model most likely came
// from. The run store is optional.
func logLatestRun(c cfg.Settings) {
	if c.DataPath == "" {
		return
	}
	if err := os.MkdirAll(c.DataPath, 0755); err != nil {
		log.Warn().Err(err).Msg("data path unavailable, skipping run history")
		return
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without run history")
		return
	}
	defer store.Close()

	run, err := store.LatestRun()
	if err != nil {
		return
	}
	log.Info().
		Str("run_id", run.ID).
		Str("status", run.Status).
		Time("finished_at", run.FinishedAt).
		Str("artifact", run.ArtifactPath).
		Msg("latest training run")
}
