// Package engine turns due recurring definitions into ledger transactions.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/rates"
)

// DecisionKind enumerates materializer outcomes.
type DecisionKind int

const (
	// DecisionInsert carries a ledger row to persist.
	DecisionInsert DecisionKind = iota
	// SkipRateUnavailable means no provider returned a rate; the occurrence is consumed without a row.
	SkipRateUnavailable
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionInsert:
		return "insert"
	case SkipRateUnavailable:
		return "skip_rate_unavailable"
	default:
		return "unknown"
	}
}

// Decision is the result of materializing one occurrence.
type Decision struct {
	Kind        DecisionKind
	Transaction domain.LedgerTransaction
}

// Insert reports whether the decision carries a row.
func (d Decision) Insert() bool {
	return d.Kind == DecisionInsert
}

// Materializer builds the ledger row for a single occurrence.
type Materializer struct {
	rates  rates.Resolver
	logger zerolog.Logger
	newID  func() string
}

// NewMaterializer constructs a Materializer resolving foreign amounts through resolver.
func NewMaterializer(resolver rates.Resolver, logger zerolog.Logger) *Materializer {
	return &Materializer{rates: resolver, logger: logger, newID: uuid.NewString}
}

// Materialize decides what to write for the occurrence of def due on dueDate.
// A fresh conversion is stamped with today, the run date.
func (m *Materializer) Materialize(ctx context.Context, def domain.Definition, dueDate, today time.Time, defaultCurrency string) Decision {
	row := domain.LedgerTransaction{
		ID:                m.newID(),
		UserID:            def.UserID,
		Date:              domain.DateOf(dueDate),
		Amount:            def.Amount,
		Currency:          def.Currency,
		Type:              def.Type,
		Description:       def.Description,
		Category:          def.Category,
		Recipient:         def.Recipient,
		IsChomesh:         def.IsChomesh,
		SourceRecurringID: def.ID,
		OccurrenceNumber:  def.ExecutionCount + 1,
	}

	switch {
	case def.HasLockedConversion():
		row.OriginalAmount = def.OriginalAmount
		row.OriginalCurrency = def.OriginalCurrency
		row.ConversionRate = def.ConversionRate
		row.ConversionDate = def.ConversionDate
		row.RateSource = def.RateSource
		return Decision{Kind: DecisionInsert, Transaction: row}

	case strings.EqualFold(def.Currency, defaultCurrency):
		return Decision{Kind: DecisionInsert, Transaction: row}
	}

	rate, ok := m.rates.Resolve(ctx, def.Currency, defaultCurrency)
	if !ok || rate.Value <= 0 {
		m.logger.Warn().
			Str("definition_id", def.ID).
			Int("occurrence_number", row.OccurrenceNumber).
			Str("from", def.Currency).
			Str("to", defaultCurrency).
			Msg("exchange rate unavailable, skipping occurrence")
		return Decision{Kind: SkipRateUnavailable}
	}

	originalAmount := def.Amount
	originalCurrency := def.Currency
	conversionRate := rate.Value
	conversionDate := domain.DateOf(today)
	source := domain.RateSourceAuto

	row.Amount = ConvertAmount(def.Amount, rate.Value)
	row.Currency = defaultCurrency
	row.OriginalAmount = &originalAmount
	row.OriginalCurrency = &originalCurrency
	row.ConversionRate = &conversionRate
	row.ConversionDate = &conversionDate
	row.RateSource = &source
	return Decision{Kind: DecisionInsert, Transaction: row}
}

// ConvertAmount multiplies amount by rate and rounds to 2 decimals.
func ConvertAmount(amount, rate float64) float64 {
	converted, _ := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).Round(2).Float64()
	return converted
}
