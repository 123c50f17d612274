package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/retina-api/internal/catalog"
	"github.com/Brownie44l1/retina-api/internal/config"
	"github.com/Brownie44l1/retina-api/internal/handlers"
	"github.com/Brownie44l1/retina-api/internal/metrics"
	"github.com/Brownie44l1/retina-api/internal/model"
	"github.com/Brownie44l1/retina-api/internal/prediction"
	"github.com/Brownie44l1/retina-api/internal/preprocess"
)

func setupLogger(settings config.Settings) {
	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if settings.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	zerolog.DefaultContextLogger = &log.Logger
}

// newProvider builds the configured backend and the preprocessing config
// that matches its input.
func newProvider(settings config.Settings, cat *catalog.Catalog) (model.Provider, preprocess.Config, error) {
	pre := preprocess.DefaultConfig()

	switch settings.Provider {
	case config.ProviderRemote:
		log.Info().Str("url", settings.RemoteURL).Dur("timeout", settings.RemoteTimeout).Msg("using remote inference")
		return model.NewRemoteProvider(settings.RemoteURL, settings.RemoteTimeout), pre, nil

	default:
		meta, err := model.LoadMetadata(settings.MetadataPath)
		if err != nil {
			return nil, pre, err
		}
		if err := meta.Validate(cat.Codes()); err != nil {
			return nil, pre, err
		}
		if h, w := meta.InputSize(); h > 0 && w > 0 {
			pre.Height, pre.Width = h, w
		}

		log.Info().Str("path", settings.ModelPath).Str("device", settings.Device).Msg("loading model")
		provider, err := model.NewONNXProvider(model.ONNXConfig{
			ModelPath:         settings.ModelPath,
			Metadata:          meta,
			Device:            settings.Device,
			SharedLibraryPath: settings.SharedLibraryPath,
		})
		if err != nil {
			return nil, pre, fmt.Errorf("failed to initialize model: %w", err)
		}
		return provider, pre, nil
	}
}

func main() {
	settings, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogger(settings)

	cat, err := catalog.Load(settings.CatalogPath, settings.CatalogIDColumn)
	if err != nil {
		log.Fatal().Err(err).Str("path", settings.CatalogPath).Msg("failed to load disease catalog")
	}
	log.Info().Int("codes", cat.Len()).Strs("order", cat.Codes()).Msg("catalog loaded")

	provider, preCfg, err := newProvider(settings, cat)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize inference provider")
	}
	defer provider.Close()

	m := metrics.New()
	svc := prediction.NewService(provider, cat, preprocess.New(preCfg), prediction.DefaultConfig(), m)

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 2*time.Minute)
	err = svc.Verify(probeCtx)
	cancelProbe()
	if err != nil {
		provider.Close()
		log.Fatal().Err(err).Str("kind", prediction.KindOf(err).String()).Msg("model failed startup check")
	}

	router := handlers.NewRouter(handlers.NewHandler(svc, settings.MaxUploadBytes), m, promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", settings.Port),
		Handler:      router,
		ReadTimeout:  settings.ReadTimeout,
		WriteTimeout: settings.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		log.Info().Msg("endpoints: GET /health, GET /model, GET /metrics, POST /predict")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
