package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/observability"
)

// ErrLedgerWrite wraps a failed ledger insert. The occurrence is skipped, not retried.
var ErrLedgerWrite = errors.New("ledger write failed")

// DefaultMaxIterations caps occurrences consumed per definition in one run.
const DefaultMaxIterations = 500

// LedgerWriter persists materialized rows. Implementations return
// domain.ErrDuplicateOccurrence when the occurrence already has a row.
type LedgerWriter interface {
	InsertTransaction(ctx context.Context, tx domain.LedgerTransaction) error
}

// CatchUp drives one definition from its stored progress up to today.
type CatchUp struct {
	ledger        LedgerWriter
	materializer  *Materializer
	maxIterations int
	logger        zerolog.Logger
}

// NewCatchUp constructs the loop controller. maxIterations <= 0 selects DefaultMaxIterations.
func NewCatchUp(ledger LedgerWriter, materializer *Materializer, maxIterations int, logger zerolog.Logger) *CatchUp {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &CatchUp{
		ledger:        ledger,
		materializer:  materializer,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run consumes every due occurrence of def. Each iteration counts once whether the
// row was inserted, already present or skipped. The returned result carries the
// reached progress; persisting it is the caller's job.
func (c *CatchUp) Run(ctx context.Context, def domain.Definition, defaultCurrency string, today time.Time) (DefinitionResult, error) {
	result := newResult(def)
	if !def.Frequency.Valid() {
		return result, fmt.Errorf("definition %s: %w: %q", def.ID, domain.ErrUnsupportedFrequency, def.Frequency)
	}

	today = domain.DateOf(today)
	progress := def.Progress()
	log := c.logger.With().Str("definition_id", def.ID).Logger()

	for progress.Due(today) {
		if result.Iterations >= c.maxIterations {
			log.Warn().Int("iterations", result.Iterations).Msg("iteration cap reached, deferring remaining occurrences")
			result.Tag = TagDeferred
			break
		}
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("iterations", result.Iterations).Msg("run cancelled, deferring remaining occurrences")
			result.Tag = TagDeferred
			break
		}

		current := def.WithProgress(progress)
		decision := c.materializer.Materialize(ctx, current, progress.NextDueDate, today, defaultCurrency)
		if !c.persist(ctx, log, decision, &result) {
			log.Warn().Err(ctx.Err()).Int("iterations", result.Iterations).Msg("run cancelled mid-occurrence, deferring remaining occurrences")
			result.Tag = TagDeferred
			break
		}

		next, err := domain.Advance(def, progress)
		if err != nil {
			return result.withProgress(progress), err
		}
		progress = next
		result.Iterations++
	}

	result = result.withProgress(progress)
	if result.Iterations > 0 && result.Tag != TagDeferred {
		result.Tag = TagProcessed
		if progress.Status == domain.StatusCompleted {
			result.Tag = TagCompleted
		}
	}
	return result, nil
}

// persist records the decision and reports whether the occurrence was consumed. A
// failure caused by ctx ending leaves the occurrence due for the next run.
func (c *CatchUp) persist(ctx context.Context, log zerolog.Logger, decision Decision, result *DefinitionResult) bool {
	if !decision.Insert() {
		if ctx.Err() != nil {
			return false
		}
		result.Skipped++
		observability.RecordOccurrence(observability.OccurrenceRateUnavailable)
		return true
	}

	tx := decision.Transaction
	err := c.ledger.InsertTransaction(ctx, tx)
	if err != nil && !errors.Is(err, domain.ErrDuplicateOccurrence) && ctx.Err() != nil {
		return false
	}
	switch {
	case err == nil:
		result.Materialized++
		observability.RecordOccurrence(observability.OccurrenceMaterialized)
	case errors.Is(err, domain.ErrDuplicateOccurrence):
		result.Duplicates++
		observability.RecordOccurrence(observability.OccurrenceDuplicate)
		log.Info().Int("occurrence_number", tx.OccurrenceNumber).Msg("occurrence already materialized")
	default:
		result.Skipped++
		observability.RecordOccurrence(observability.OccurrenceWriteFailed)
		log.Error().
			Err(fmt.Errorf("%w: %w", ErrLedgerWrite, err)).
			Int("occurrence_number", tx.OccurrenceNumber).
			Str("due_date", tx.Date.Format(domain.DateLayout)).
			Msg("skipping occurrence")
	}
	return true
}
