package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/observability"
)

func newLoop(store LedgerWriter, resolver *stubResolver, maxIterations int) *CatchUp {
	return NewCatchUp(store, NewMaterializer(resolver, zerolog.Nop()), maxIterations, zerolog.Nop())
}

func TestCatchUpMonthlyAnchoredBackfill(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-1", "2024-01-31", domain.FrequencyMonthly)
	def.DayOfMonth = ptr(31)

	result, err := newLoop(store, &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)

	require.Equal(t, TagProcessed, result.Tag)
	require.Equal(t, 2, result.Iterations)
	require.Equal(t, 2, result.Materialized)
	require.Equal(t, 2, result.ExecutionCount)
	require.Equal(t, "2024-03-31", result.NextDueDate)

	rows := store.rowsFor("rec-1")
	require.Len(t, rows, 2)
	require.Equal(t, "2024-01-31", rows[0].Date.Format(domain.DateLayout))
	require.Equal(t, 1, rows[0].OccurrenceNumber)
	require.Equal(t, "2024-02-29", rows[1].Date.Format(domain.DateLayout))
	require.Equal(t, 2, rows[1].OccurrenceNumber)
}

func TestCatchUpRateUnavailableConsumesSlot(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-2", "2024-03-10", domain.FrequencyMonthly)
	def.Currency = "USD"
	def.ExecutionCount = 3

	before := occurrenceCount(t, observability.OccurrenceRateUnavailable)
	result, err := newLoop(store, &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)

	require.Equal(t, 1, result.Iterations)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.Materialized)
	require.Equal(t, 4, result.ExecutionCount)
	require.Equal(t, "2024-04-10", result.NextDueDate)
	require.Empty(t, store.rowsFor("rec-2"))
	require.Equal(t, before+1, occurrenceCount(t, observability.OccurrenceRateUnavailable))
}

func TestCatchUpCompletesAtTotal(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-3", "2024-03-01", domain.FrequencyDaily)
	def.ExecutionCount = 2
	def.TotalOccurrences = ptr(3)

	result, err := newLoop(store, &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)

	require.Equal(t, TagCompleted, result.Tag)
	require.Equal(t, 1, result.Iterations)
	require.Equal(t, 3, result.ExecutionCount)
	require.Equal(t, domain.StatusCompleted, result.DefinitionStatus)
	require.Len(t, store.rowsFor("rec-3"), 1)
}

func TestCatchUpLockedConversionIsStable(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-4", "2024-03-01", domain.FrequencyWeekly)
	def.Amount = 370
	def.OriginalAmount = ptr(100.0)
	def.OriginalCurrency = ptr("USD")
	def.ConversionRate = ptr(3.7)
	def.ConversionDate = ptr(mustDate(t, "2023-12-01"))
	def.RateSource = ptr("auto")

	resolver := &stubResolver{ok: true, value: 4.1}
	result, err := newLoop(store, resolver, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-28"))
	require.NoError(t, err)
	require.Equal(t, 4, result.Iterations)
	require.Zero(t, resolver.calls)

	rows := store.rowsFor("rec-4")
	require.Len(t, rows, 4)
	for _, row := range rows {
		require.Equal(t, 370.0, row.Amount)
		require.Equal(t, 100.0, *row.OriginalAmount)
		require.Equal(t, "USD", *row.OriginalCurrency)
		require.Equal(t, 3.7, *row.ConversionRate)
		require.Equal(t, "2023-12-01", row.ConversionDate.Format(domain.DateLayout))
	}
}

func TestCatchUpIterationCapDefers(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-5", "2024-01-01", domain.FrequencyDaily)

	result, err := newLoop(store, &stubResolver{}, 10).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)

	require.Equal(t, TagDeferred, result.Tag)
	require.Equal(t, 10, result.Iterations)
	require.Equal(t, 10, result.ExecutionCount)
	require.Equal(t, "2024-01-11", result.NextDueDate)
	require.True(t, result.Tag.Advanced())
}

func TestCatchUpDuplicateCountsIteration(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-6", "2024-03-14", domain.FrequencyDaily)
	require.NoError(t, store.InsertTransaction(context.Background(), domain.LedgerTransaction{
		SourceRecurringID: "rec-6",
		OccurrenceNumber:  1,
	}))

	result, err := newLoop(store, &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)

	require.Equal(t, 2, result.Iterations)
	require.Equal(t, 1, result.Duplicates)
	require.Equal(t, 1, result.Materialized)
	require.Zero(t, result.Skipped)
	require.Equal(t, "2024-03-16", result.NextDueDate)
}

func TestCatchUpInsertFailureSkips(t *testing.T) {
	store := newMemStore()
	store.insertErr = func(tx domain.LedgerTransaction) error {
		if tx.OccurrenceNumber == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	def := definition(t, "rec-7", "2024-03-14", domain.FrequencyDaily)

	result, err := newLoop(store, &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)

	require.Equal(t, 2, result.Iterations)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, result.Materialized)
	rows := store.rowsFor("rec-7")
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].OccurrenceNumber)
}

func TestCatchUpNotDue(t *testing.T) {
	store := newMemStore()
	def := definition(t, "rec-8", "2024-04-01", domain.FrequencyMonthly)

	result, err := newLoop(store, &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)
	require.Equal(t, TagUnchanged, result.Tag)
	require.Zero(t, result.Iterations)
}

func TestCatchUpCancelledContextDefers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	def := definition(t, "rec-9", "2024-03-01", domain.FrequencyDaily)

	result, err := newLoop(newMemStore(), &stubResolver{}, 0).Run(ctx, def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)
	require.Equal(t, TagDeferred, result.Tag)
	require.Zero(t, result.Iterations)
}

func TestCatchUpInsertCancelledKeepsOccurrenceDue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newMemStore()
	store.insertErr = func(domain.LedgerTransaction) error {
		cancel()
		return context.Canceled
	}
	def := definition(t, "rec-11", "2024-03-01", domain.FrequencyDaily)

	result, err := newLoop(store, &stubResolver{}, 0).Run(ctx, def, "ILS", mustDate(t, "2024-03-15"))
	require.NoError(t, err)
	require.Equal(t, TagDeferred, result.Tag)
	require.Zero(t, result.Iterations)
	require.Zero(t, result.Skipped)
	require.Equal(t, "2024-03-01", result.NextDueDate)
}

func TestCatchUpRejectsUnknownFrequency(t *testing.T) {
	def := definition(t, "rec-10", "2024-03-01", domain.Frequency("fortnightly"))

	_, err := newLoop(newMemStore(), &stubResolver{}, 0).Run(context.Background(), def, "ILS", mustDate(t, "2024-03-15"))
	require.ErrorIs(t, err, domain.ErrUnsupportedFrequency)
}
