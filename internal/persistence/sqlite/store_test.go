package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/engine"
	"example.com/recurring/internal/rates"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "recurring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func day(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := domain.ParseDate(value)
	require.NoError(t, err)
	return parsed
}

func newDefinition(t *testing.T, due string) domain.Definition {
	t.Helper()
	return domain.Definition{
		UserID:      "user-1",
		Amount:      100,
		Currency:    "ILS",
		Type:        "donation",
		Frequency:   domain.FrequencyMonthly,
		NextDueDate: day(t, due),
	}
}

type fixedRate struct{}

func (fixedRate) Resolve(_ context.Context, from, to string) (rates.Rate, bool) {
	return rates.Rate{From: from, To: to, Value: 3.7, Source: "fixed"}, true
}

func TestStoreRoundTripsDefinitions(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	def := newDefinition(t, "2024-02-10")
	def.DayOfMonth = intPtr(10)
	def.Category = strPtr("charity")
	def.OriginalAmount = floatPtr(27.03)
	def.OriginalCurrency = strPtr("USD")
	def.ConversionRate = floatPtr(3.7)
	conversion := day(t, "2024-01-05")
	def.ConversionDate = &conversion

	id, err := store.CreateDefinition(ctx, def)
	require.NoError(t, err)

	loaded, err := store.Definition(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, domain.StatusActive, loaded.Status)
	require.Equal(t, 10, *loaded.DayOfMonth)
	require.Equal(t, "charity", *loaded.Category)
	require.Nil(t, loaded.Description)
	require.Nil(t, loaded.TotalOccurrences)
	require.True(t, loaded.HasLockedConversion())
	require.Equal(t, "2024-01-05", loaded.ConversionDate.Format(domain.DateLayout))

	missing, err := store.Definition(ctx, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestStoreDueDefinitionsFiltersByDateAndStatus(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.CreateDefinition(ctx, newDefinition(t, "2024-03-15"))
	require.NoError(t, err)
	_, err = store.CreateDefinition(ctx, newDefinition(t, "2024-03-16"))
	require.NoError(t, err)
	done := newDefinition(t, "2024-01-01")
	done.Status = domain.StatusCompleted
	_, err = store.CreateDefinition(ctx, done)
	require.NoError(t, err)

	due, err := store.DueDefinitions(ctx, day(t, "2024-03-15"))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "2024-03-15", due[0].NextDueDate.Format(domain.DateLayout))
}

func TestStoreRejectsDuplicateOccurrence(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	id, err := store.CreateDefinition(ctx, newDefinition(t, "2024-03-01"))
	require.NoError(t, err)

	row := domain.LedgerTransaction{
		ID: uuid.NewString(), UserID: "user-1", Date: day(t, "2024-03-01"),
		Amount: 100, Currency: "ILS", Type: "donation", SourceRecurringID: id, OccurrenceNumber: 1,
	}
	require.NoError(t, store.InsertTransaction(ctx, row))

	row.ID = uuid.NewString()
	require.ErrorIs(t, store.InsertTransaction(ctx, row), domain.ErrDuplicateOccurrence)
}

func TestStoreSaveProgressIsConditional(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	def := newDefinition(t, "2024-03-01")
	id, err := store.CreateDefinition(ctx, def)
	require.NoError(t, err)

	next := domain.Progress{NextDueDate: day(t, "2024-04-01"), ExecutionCount: 1, Status: domain.StatusActive}
	require.NoError(t, store.SaveProgress(ctx, id, def.NextDueDate, next))
	require.ErrorIs(t, store.SaveProgress(ctx, id, def.NextDueDate, next), domain.ErrProgressConflict)
}

func TestStoreProfiles(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.DefaultCurrency(ctx, "user-1")
	require.ErrorIs(t, err, domain.ErrProfileNotFound)

	require.NoError(t, store.SetProfileCurrency(ctx, "user-1", "EUR"))
	require.NoError(t, store.SetProfileCurrency(ctx, "user-1", "USD"))
	currency, err := store.DefaultCurrency(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "USD", currency)
}

func TestStoreDrivesOrchestrator(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	foreign := newDefinition(t, "2024-01-31")
	foreign.Currency = "USD"
	foreign.DayOfMonth = intPtr(31)
	id, err := store.CreateDefinition(ctx, foreign)
	require.NoError(t, err)

	orch := engine.NewOrchestrator(store, fixedRate{}, engine.Options{}, zerolog.Nop())
	today := day(t, "2024-03-15")

	summary, err := orch.Run(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)

	rows, err := store.Transactions(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, 370.0, row.Amount)
		require.Equal(t, "ILS", row.Currency)
		require.Equal(t, "USD", *row.OriginalCurrency)
		require.Equal(t, "2024-03-15", row.ConversionDate.Format(domain.DateLayout))
		require.Equal(t, domain.RateSourceAuto, *row.RateSource)
	}
	require.Equal(t, "2024-02-29", rows[1].Date.Format(domain.DateLayout))

	loaded, err := store.Definition(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.ExecutionCount)
	require.Equal(t, "2024-03-31", loaded.NextDueDate.Format(domain.DateLayout))

	again, err := orch.Run(ctx, today)
	require.NoError(t, err)
	require.Empty(t, again.Details)
}

func intPtr(v int) *int           { return &v }
func strPtr(v string) *string     { return &v }
func floatPtr(v float64) *float64 { return &v }
