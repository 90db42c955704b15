package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/davidkvd/nomnom-studio/internal/bootstrap"
	"github.com/davidkvd/nomnom-studio/internal/http/handlers"
	httpapi "github.com/davidkvd/nomnom-studio/internal/http/httpapi"
	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/infra/geoip"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: bootstrap failed")
	}
	if cfg.WorkerTriggerURL != "" {
		svc.UseHTTPDispatch(cfg, logger)
	} else {
		svc.UseLocalDispatch(cfg, logger)
	}

	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip database unavailable")
	}
	defer geo.Close()

	app := &handlers.App{
		Batches:       svc.Orchestrator,
		Bundles:       svc.Bundles,
		Ledger:        svc.Ledger,
		Notifications: svc.Notifier,
		Files:         svc.Files,
		Ping:          svc.Repos.Ping,
		WorkerTimeout: cfg.DispatchTimeout,
		Logger:        logger,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		WorkerSecret:    cfg.WorkerSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   geo.Lookup(),
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	svc.Close()
	logger.Info().Msg("server stopped")
}
