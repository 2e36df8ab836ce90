// Package app assembles the engine from configuration for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"example.com/recurring/internal/auth"
	"example.com/recurring/internal/config"
	"example.com/recurring/internal/engine"
	"example.com/recurring/internal/outbox"
	"example.com/recurring/internal/persistence/postgres"
	"example.com/recurring/internal/persistence/sqlite"
	"example.com/recurring/internal/rates"
)

// App holds the wired engine and the resources that must be released on exit.
type App struct {
	Config       config.Config
	Store        engine.Store
	Orchestrator *engine.Orchestrator

	pool    *pgxpool.Pool
	prober  auth.Prober
	closers []func() error
	logger  zerolog.Logger
}

// Build opens the configured store and constructs the orchestrator. With migrate set
// the Postgres schema is applied before returning.
func Build(ctx context.Context, cfg config.Config, migrate bool, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log}

	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)
		log.Info().Str("path", store.Path()).Msg("sqlite store opened")
	default:
		pool, err := postgres.NewPool(ctx, cfg.PostgresURL, int32(cfg.Workers*2+2))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if migrate {
			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				a.Close()
				return nil, err
			}
			log.Info().Strs("migrations", applied).Msg("schema applied")
		}

		var opts []postgres.Option
		if cfg.OutboxEnabled {
			opts = append(opts, postgres.WithOutboxTopic(cfg.LedgerEventsTopic))
		}
		repo := postgres.NewRepository(pool, opts...)
		a.Store = repo
		a.prober = repo
	}

	a.Orchestrator = engine.NewOrchestrator(a.Store, NewResolver(cfg, log), engine.Options{
		FallbackCurrency: cfg.DefaultCurrency,
		MaxIterations:    cfg.MaxIterationsPerRun,
		Workers:          cfg.Workers,
	}, log)
	return a, nil
}

// NewResolver builds the provider chain with configured base URL overrides.
func NewResolver(cfg config.Config, log zerolog.Logger) *rates.Chain {
	providers := rates.DefaultProviders(rates.ProviderURLs{
		ExchangeRateAPI: cfg.ProviderURL("exchangerate-api"),
		Frankfurter:     cfg.ProviderURL("frankfurter"),
		FloatRates:      cfg.ProviderURL("floatrates"),
	})
	return rates.NewChain(providers,
		rates.WithHTTPClient(&http.Client{}),
		rates.WithAttemptTimeout(cfg.RateTimeout),
		rates.WithLogger(log),
	)
}

// Validators returns the token validators enabled by configuration, in the order
// they are tried. JWT validators need the signing secret.
func (a *App) Validators() []auth.TokenValidator {
	var validators []auth.TokenValidator
	if keys := a.Config.APIKeys(); len(keys) > 0 {
		validators = append(validators, auth.NewExactKeyMatch(keys...))
	}
	if a.Config.JWTSecret == "" {
		return validators
	}
	jwtCfg := auth.Config{Secret: a.Config.JWTSecret, Issuer: a.Config.JWTIssuer}
	if a.prober != nil {
		validators = append(validators, auth.NewServiceRoleProbe(jwtCfg, a.prober))
	}
	validators = append(validators, auth.NewSignedJWT(jwtCfg))
	return validators
}

// Dispatcher returns the outbox dispatcher when the outbox is enabled, or nil.
func (a *App) Dispatcher() *outbox.Dispatcher {
	if !a.Config.OutboxEnabled || a.pool == nil {
		return nil
	}
	producer := outbox.NewKafkaProducer(a.Config.KafkaBrokers, outbox.WithProducerLogger(a.logger))
	a.closers = append(a.closers, producer.Close)
	return outbox.NewDispatcher(outbox.NewPostgresQueue(a.pool), producer,
		a.Config.OutboxPollInterval, a.Config.OutboxBatchSize, a.logger)
}

// DLQReplayer returns a dead-letter replayer. It needs the postgres driver.
func (a *App) DLQReplayer(maxRetries int, baseDelay time.Duration) (*outbox.DLQReplayer, error) {
	if a.pool == nil {
		return nil, errors.New("the outbox requires the postgres driver")
	}
	return outbox.NewDLQReplayer(a.pool, maxRetries, baseDelay, a.logger), nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("failed to release resource")
		}
	}
	a.closers = nil
}
