package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/logger"
	"example.com/recurring/internal/observability"
	"example.com/recurring/internal/rates"
)

var (
	// ErrFatalQuery wraps a failure to read the due set. It is the only run-level error.
	ErrFatalQuery = errors.New("query due recurring definitions")
	// ErrDefinitionWrite wraps a failed progress write-back.
	ErrDefinitionWrite = errors.New("persist recurring definition progress")
)

// DefaultFallbackCurrency is used when a user has no profile.
const DefaultFallbackCurrency = "ILS"

// Store is the persistence surface the orchestrator needs.
type Store interface {
	LedgerWriter
	// DueDefinitions returns active definitions with next_due_date <= today.
	DueDefinitions(ctx context.Context, today time.Time) ([]domain.Definition, error)
	// DefaultCurrency returns the user's profile currency or domain.ErrProfileNotFound.
	DefaultCurrency(ctx context.Context, userID string) (string, error)
	// SaveProgress writes p only if the stored next_due_date still equals previousDueDate
	// and the definition is active; otherwise it returns domain.ErrProgressConflict.
	SaveProgress(ctx context.Context, definitionID string, previousDueDate time.Time, p domain.Progress) error
}

// Options tunes a run.
type Options struct {
	FallbackCurrency string
	MaxIterations    int
	Workers          int
}

// Orchestrator runs the catch-up loop over every due definition.
type Orchestrator struct {
	store  Store
	rates  rates.Resolver
	opts   Options
	logger zerolog.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(store Store, resolver rates.Resolver, opts Options, logger zerolog.Logger) *Orchestrator {
	if strings.TrimSpace(opts.FallbackCurrency) == "" {
		opts.FallbackCurrency = DefaultFallbackCurrency
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Orchestrator{store: store, rates: resolver, opts: opts, logger: logger}
}

// Run processes all definitions due on today. Only a failure to read the due set is
// returned as an error; everything else is reported per definition in the summary.
func (o *Orchestrator) Run(ctx context.Context, today time.Time) (Summary, error) {
	started := time.Now()
	today = domain.DateOf(today)
	log := logger.FromContext(ctx, o.logger).With().
		Str("run_id", uuid.NewString()).
		Str("today", today.Format(domain.DateLayout)).
		Logger()

	defs, err := o.store.DueDefinitions(ctx, today)
	if err != nil {
		observability.RecordRun("failed", started, time.Now())
		log.Error().Err(err).Msg("failed to query due definitions")
		return Summary{}, fmt.Errorf("%w: %w", ErrFatalQuery, err)
	}

	materializer := NewMaterializer(rates.NewRunCache(o.rates), log)
	loop := NewCatchUp(o.store, materializer, o.opts.MaxIterations, log)

	results := make([]DefinitionResult, len(defs))
	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, def := range defs {
		g.Go(func() error {
			results[i] = o.processDefinition(ctx, log, loop, def, today)
			return nil
		})
	}
	_ = g.Wait()

	summary := NewSummary()
	for _, r := range results {
		observability.RecordDefinition(string(r.Tag))
		summary = summary.Add(r)
	}

	observability.RecordRun("success", started, time.Now())
	log.Info().
		Int("due", len(defs)).
		Int("processed", summary.Processed).
		Int("skipped", summary.Skipped).
		Int("materialized", summary.Materialized()).
		Dur("elapsed", time.Since(started)).
		Msg("recurring run finished")
	return summary, nil
}

func (o *Orchestrator) processDefinition(ctx context.Context, log zerolog.Logger, loop *CatchUp, def domain.Definition, today time.Time) (result DefinitionResult) {
	log = log.With().Str("definition_id", def.ID).Str("user_id", def.UserID).Logger()
	result = newResult(def)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered panic while processing definition")
			result = newResult(def).fail(TagError, fmt.Errorf("panic: %v", r))
		}
	}()

	currency, err := o.defaultCurrency(ctx, def.UserID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load user profile")
		return result.fail(TagError, err)
	}

	result, err = loop.Run(ctx, def, currency, today)
	if err != nil {
		log.Error().Err(err).Msg("catch-up loop failed")
		return result.fail(TagError, err)
	}
	if result.Iterations == 0 {
		return result
	}

	// Save even when the run context is cancelled so consumed occurrences are not repeated.
	saveCtx := context.WithoutCancel(ctx)
	if err := o.store.SaveProgress(saveCtx, def.ID, def.NextDueDate, result.Progress); err != nil {
		if errors.Is(err, domain.ErrProgressConflict) {
			log.Warn().Err(err).Msg("definition advanced by another run")
			return result.fail(TagConflict, err)
		}
		err = fmt.Errorf("%w: %w", ErrDefinitionWrite, err)
		log.Error().Err(err).Int("iterations", result.Iterations).Msg("progress lost for this run")
		return result.fail(TagPersistFailed, err)
	}

	log.Debug().
		Str("tag", string(result.Tag)).
		Int("iterations", result.Iterations).
		Str("next_due_date", result.NextDueDate).
		Msg("definition advanced")
	return result
}

func (o *Orchestrator) defaultCurrency(ctx context.Context, userID string) (string, error) {
	currency, err := o.store.DefaultCurrency(ctx, userID)
	if errors.Is(err, domain.ErrProfileNotFound) || (err == nil && strings.TrimSpace(currency) == "") {
		return o.opts.FallbackCurrency, nil
	}
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strings.TrimSpace(currency)), nil
}
