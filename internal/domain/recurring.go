// Package domain defines the recurring definition and ledger types owned by the engine.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateOccurrence is returned when a ledger row already exists for
	// (source_recurring_id, occurrence_number).
	ErrDuplicateOccurrence = errors.New("ledger row already exists for occurrence")
	// ErrProgressConflict is returned when a conditional progress write matched no row,
	// usually because another run advanced the definition first.
	ErrProgressConflict = errors.New("recurring definition progress changed concurrently")
	// ErrProfileNotFound indicates the user has no profile row.
	ErrProfileNotFound = errors.New("user profile not found")
	// ErrUnsupportedFrequency is returned for frequencies the schedule cannot advance.
	ErrUnsupportedFrequency = errors.New("unsupported frequency")
)

// Frequency is the repeat interval of a recurring definition.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Status is the lifecycle state of a recurring definition.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// RateSourceAuto marks a conversion fetched by the engine at materialization time.
const RateSourceAuto = "auto"

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// Definition is a recurring transaction template plus its progress counters.
// Template and locked-conversion fields belong to the user; only the Progress
// fields are written by the engine.
type Definition struct {
	ID     string
	UserID string

	Amount      float64
	Currency    string
	Type        string
	Category    *string
	Description *string
	Recipient   *string
	IsChomesh   bool
	Frequency   Frequency
	DayOfMonth  *int

	OriginalAmount   *float64
	OriginalCurrency *string
	ConversionRate   *float64
	ConversionDate   *time.Time
	RateSource       *string

	NextDueDate      time.Time
	ExecutionCount   int
	Status           Status
	TotalOccurrences *int
}

// HasLockedConversion reports whether the definition carries a conversion fixed at
// creation or edit time.
func (d Definition) HasLockedConversion() bool {
	return d.OriginalAmount != nil && d.OriginalCurrency != nil && *d.OriginalCurrency != ""
}

// Progress returns the engine-owned state of the definition.
func (d Definition) Progress() Progress {
	return Progress{
		NextDueDate:    d.NextDueDate,
		ExecutionCount: d.ExecutionCount,
		Status:         d.Status,
	}
}

// WithProgress returns a copy of d carrying p.
func (d Definition) WithProgress(p Progress) Definition {
	d.NextDueDate = p.NextDueDate
	d.ExecutionCount = p.ExecutionCount
	d.Status = p.Status
	return d
}

// LedgerTransaction is one materialized occurrence. Rows are never updated.
type LedgerTransaction struct {
	ID          string
	UserID      string
	Date        time.Time
	Amount      float64
	Currency    string
	Type        string
	Description *string
	Category    *string
	Recipient   *string
	IsChomesh   bool

	SourceRecurringID string
	OccurrenceNumber  int

	OriginalAmount   *float64
	OriginalCurrency *string
	ConversionRate   *float64
	ConversionDate   *time.Time
	RateSource       *string
}

// Converted reports whether a currency conversion was applied to the row.
func (t LedgerTransaction) Converted() bool {
	return t.ConversionRate != nil
}

// Today returns the UTC calendar date of now.
func Today(now time.Time) time.Time {
	return DateOf(now)
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}
