package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/recurring/internal/domain"
)

func TestMaterializeSameCurrency(t *testing.T) {
	resolver := &stubResolver{ok: true, value: 3.7}
	m := NewMaterializer(resolver, zerolog.Nop())
	def := definition(t, "rec-1", "2024-03-01", domain.FrequencyMonthly)
	def.ExecutionCount = 4

	decision := m.Materialize(context.Background(), def, def.NextDueDate, mustDate(t, "2024-03-15"), "ILS")
	require.True(t, decision.Insert())

	row := decision.Transaction
	require.NotEmpty(t, row.ID)
	require.Equal(t, "rec-1", row.SourceRecurringID)
	require.Equal(t, 5, row.OccurrenceNumber)
	require.Equal(t, "2024-03-01", row.Date.Format(domain.DateLayout))
	require.Equal(t, 100.0, row.Amount)
	require.Equal(t, "ILS", row.Currency)
	require.Equal(t, "user-rec-1", row.UserID)
	require.Equal(t, def.Category, row.Category)
	require.Equal(t, def.Recipient, row.Recipient)
	require.True(t, row.IsChomesh)
	require.False(t, row.Converted())
	require.Nil(t, row.OriginalAmount)
	require.Nil(t, row.OriginalCurrency)
	require.Nil(t, row.ConversionDate)
	require.Nil(t, row.RateSource)
	require.Zero(t, resolver.calls)
}

func TestMaterializeLockedConversion(t *testing.T) {
	resolver := &stubResolver{ok: true, value: 9.99}
	m := NewMaterializer(resolver, zerolog.Nop())

	def := definition(t, "rec-2", "2024-03-01", domain.FrequencyMonthly)
	def.Amount = 370
	def.OriginalAmount = ptr(100.0)
	def.OriginalCurrency = ptr("USD")
	def.ConversionRate = ptr(3.7)
	def.ConversionDate = ptr(mustDate(t, "2023-11-02"))
	def.RateSource = ptr("manual")

	decision := m.Materialize(context.Background(), def, def.NextDueDate, mustDate(t, "2024-03-15"), "EUR")
	require.True(t, decision.Insert())

	row := decision.Transaction
	require.Equal(t, 370.0, row.Amount)
	require.Equal(t, "ILS", row.Currency)
	require.Equal(t, 100.0, *row.OriginalAmount)
	require.Equal(t, "USD", *row.OriginalCurrency)
	require.Equal(t, 3.7, *row.ConversionRate)
	require.Equal(t, "2023-11-02", row.ConversionDate.Format(domain.DateLayout))
	require.Equal(t, "manual", *row.RateSource)
	require.Zero(t, resolver.calls)
}

func TestMaterializeForeignConvertsWithRunDate(t *testing.T) {
	resolver := &stubResolver{ok: true, value: 3.7125}
	m := NewMaterializer(resolver, zerolog.Nop())

	def := definition(t, "rec-3", "2024-01-10", domain.FrequencyMonthly)
	def.Currency = "USD"
	def.Amount = 12.34

	today := mustDate(t, "2024-03-15")
	decision := m.Materialize(context.Background(), def, def.NextDueDate, today, "ILS")
	require.True(t, decision.Insert())

	row := decision.Transaction
	require.Equal(t, 45.81, row.Amount)
	require.Equal(t, "ILS", row.Currency)
	require.Equal(t, 12.34, *row.OriginalAmount)
	require.Equal(t, "USD", *row.OriginalCurrency)
	require.Equal(t, 3.7125, *row.ConversionRate)
	require.Equal(t, "2024-03-15", row.ConversionDate.Format(domain.DateLayout))
	require.Equal(t, "2024-01-10", row.Date.Format(domain.DateLayout))
	require.Equal(t, domain.RateSourceAuto, *row.RateSource)
	require.Equal(t, 1, resolver.calls)
}

func TestMaterializeForeignWithoutRateSkips(t *testing.T) {
	m := NewMaterializer(&stubResolver{}, zerolog.Nop())
	def := definition(t, "rec-4", "2024-03-01", domain.FrequencyMonthly)
	def.Currency = "USD"

	decision := m.Materialize(context.Background(), def, def.NextDueDate, mustDate(t, "2024-03-15"), "ILS")
	require.False(t, decision.Insert())
	require.Equal(t, SkipRateUnavailable, decision.Kind)
	require.Equal(t, "skip_rate_unavailable", decision.Kind.String())
}

func TestConvertAmount(t *testing.T) {
	require.Equal(t, 370.0, ConvertAmount(100, 3.7))
	require.Equal(t, 0.33, ConvertAmount(1, 0.3333))
	require.Equal(t, 45.81, ConvertAmount(12.34, 3.7125))
}
