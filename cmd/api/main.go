package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"example.com/recurring/internal/api"
	"example.com/recurring/internal/app"
	"example.com/recurring/internal/auth"
	"example.com/recurring/internal/config"
	"example.com/recurring/internal/engine"
	"example.com/recurring/internal/logger"
	httptransport "example.com/recurring/internal/transport/http"
)

func main() {
	bootLog := logger.New(logger.Options{})

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := errors.Join(cfg.Validate(), cfg.ValidateTrigger()); err != nil {
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}).
		With().Str("service", "recurring-engine").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, true, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise engine")
	}
	defer application.Close()

	dispatcher := application.Dispatcher()
	if dispatcher != nil {
		go dispatcher.Start(ctx)
	}

	if cfg.ScheduleInterval > 0 {
		go schedule(ctx, application.Orchestrator, cfg.ScheduleInterval, log)
	}

	validators := application.Validators()
	if len(validators) == 0 {
		log.Warn().Msg("no token validators configured; every trigger request will be rejected")
	}
	guard := auth.NewGuard(log, nil, validators...)
	router := api.NewRouter(api.NewHandler(application.Orchestrator, log), guard, log)

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(serverCfg, router)
	serveErr := httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, log)
	if serveErr != nil {
		log.Error().Err(serveErr).Msg("server error")
		stop()
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
	application.Close()
	log.Info().Msg("recurring engine stopped")
	if serveErr != nil {
		os.Exit(1)
	}
}

// schedule triggers a run every interval until ctx is done.
func schedule(ctx context.Context, orch *engine.Orchestrator, interval time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("in-process scheduler started")
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := orch.Run(ctx, now); err != nil {
				log.Error().Err(err).Msg("scheduled run failed")
			}
		}
	}
}
