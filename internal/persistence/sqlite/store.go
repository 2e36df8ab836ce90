// Package sqlite is the single-file store used by the local CLI.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"example.com/recurring/internal/domain"
)

// Store implements the engine store over SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path and applies Schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SetProfileCurrency upserts a user's default currency.
func (s *Store) SetProfileCurrency(ctx context.Context, userID, currency string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, default_currency) VALUES (?, ?)
         ON CONFLICT (id) DO UPDATE SET default_currency = excluded.default_currency`,
		userID, currency)
	return err
}

// CreateDefinition inserts def, generating an id when empty.
func (s *Store) CreateDefinition(ctx context.Context, def domain.Definition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Status == "" {
		def.Status = domain.StatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recurring_transactions (id, user_id, amount, currency, type, category, description, recipient, is_chomesh,
            frequency, day_of_month, original_amount, original_currency, conversion_rate, conversion_date, rate_source,
            next_due_date, execution_count, status, total_occurrences)
         VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		def.ID, def.UserID, def.Amount, def.Currency, def.Type, def.Category, def.Description, def.Recipient, def.IsChomesh,
		string(def.Frequency), def.DayOfMonth, def.OriginalAmount, def.OriginalCurrency, def.ConversionRate, dateArg(def.ConversionDate), def.RateSource,
		def.NextDueDate.Format(domain.DateLayout), def.ExecutionCount, string(def.Status), def.TotalOccurrences,
	)
	if err != nil {
		return "", err
	}
	return def.ID, nil
}

const definitionColumns = `id, user_id, amount, currency, type, category, description, recipient, is_chomesh,
    frequency, day_of_month, original_amount, original_currency, conversion_rate, conversion_date, rate_source,
    next_due_date, execution_count, status, total_occurrences`

// DueDefinitions returns active definitions with next_due_date <= today.
func (s *Store) DueDefinitions(ctx context.Context, today time.Time) ([]domain.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionColumns+` FROM recurring_transactions
         WHERE status = 'active' AND next_due_date <= ?
         ORDER BY next_due_date, id`,
		domain.DateOf(today).Format(domain.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []domain.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Definition fetches one definition by id, or nil when absent.
func (s *Store) Definition(ctx context.Context, id string) (*domain.Definition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM recurring_transactions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row scanner) (domain.Definition, error) {
	var (
		def                                          domain.Definition
		category, description, recipient             sql.NullString
		originalCurrency, conversionDate, rateSource sql.NullString
		dayOfMonth, totalOccurrences                 sql.NullInt64
		originalAmount, conversionRate               sql.NullFloat64
		frequency, nextDue, status                   string
	)
	err := row.Scan(
		&def.ID, &def.UserID, &def.Amount, &def.Currency, &def.Type, &category, &description, &recipient, &def.IsChomesh,
		&frequency, &dayOfMonth, &originalAmount, &originalCurrency, &conversionRate, &conversionDate, &rateSource,
		&nextDue, &def.ExecutionCount, &status, &totalOccurrences,
	)
	if err != nil {
		return domain.Definition{}, err
	}

	due, err := domain.ParseDate(nextDue)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("definition %s: next_due_date: %w", def.ID, err)
	}
	def.NextDueDate = due
	def.Frequency = domain.Frequency(frequency)
	def.Status = domain.Status(status)
	def.Category = nullString(category)
	def.Description = nullString(description)
	def.Recipient = nullString(recipient)
	def.OriginalCurrency = nullString(originalCurrency)
	def.RateSource = nullString(rateSource)
	def.OriginalAmount = nullFloat(originalAmount)
	def.ConversionRate = nullFloat(conversionRate)
	def.DayOfMonth = nullInt(dayOfMonth)
	def.TotalOccurrences = nullInt(totalOccurrences)
	if conversionDate.Valid {
		parsed, err := domain.ParseDate(conversionDate.String)
		if err != nil {
			return domain.Definition{}, fmt.Errorf("definition %s: conversion_date: %w", def.ID, err)
		}
		def.ConversionDate = &parsed
	}
	return def, nil
}

// DefaultCurrency returns the user's profile currency.
func (s *Store) DefaultCurrency(ctx context.Context, userID string) (string, error) {
	var currency sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT default_currency FROM profiles WHERE id = ?`, userID).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrProfileNotFound
	}
	if err != nil {
		return "", err
	}
	return currency.String, nil
}

// InsertTransaction persists a ledger row.
func (s *Store) InsertTransaction(ctx context.Context, t domain.LedgerTransaction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, date, amount, currency, type, description, category, recipient, is_chomesh,
            source_recurring_id, occurrence_number, original_amount, original_currency, conversion_rate, conversion_date, rate_source)
         VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Date.Format(domain.DateLayout), t.Amount, t.Currency, t.Type, t.Description, t.Category, t.Recipient, t.IsChomesh,
		t.SourceRecurringID, t.OccurrenceNumber, t.OriginalAmount, t.OriginalCurrency, t.ConversionRate, dateArg(t.ConversionDate), t.RateSource,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %s#%d", domain.ErrDuplicateOccurrence, t.SourceRecurringID, t.OccurrenceNumber)
	}
	return err
}

// SaveProgress writes the engine-owned columns if next_due_date still equals previousDueDate.
func (s *Store) SaveProgress(ctx context.Context, definitionID string, previousDueDate time.Time, p domain.Progress) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recurring_transactions
         SET execution_count = ?, next_due_date = ?, status = ?, updated_at = CURRENT_TIMESTAMP
         WHERE id = ? AND next_due_date = ? AND status = 'active'`,
		p.ExecutionCount, p.NextDueDate.Format(domain.DateLayout), string(p.Status),
		definitionID, previousDueDate.Format(domain.DateLayout))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("definition %s: %w", definitionID, domain.ErrProgressConflict)
	}
	return nil
}

// Transactions lists the ledger rows materialized from one definition.
func (s *Store) Transactions(ctx context.Context, definitionID string) ([]domain.LedgerTransaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, date, amount, currency, type, occurrence_number, original_amount, original_currency,
            conversion_rate, conversion_date, rate_source
         FROM transactions WHERE source_recurring_id = ? ORDER BY occurrence_number`, definitionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LedgerTransaction
	for rows.Next() {
		var (
			t                                            domain.LedgerTransaction
			date                                         string
			originalAmount, conversionRate               sql.NullFloat64
			originalCurrency, conversionDate, rateSource sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &date, &t.Amount, &t.Currency, &t.Type, &t.OccurrenceNumber,
			&originalAmount, &originalCurrency, &conversionRate, &conversionDate, &rateSource); err != nil {
			return nil, err
		}
		if t.Date, err = domain.ParseDate(date); err != nil {
			return nil, err
		}
		t.SourceRecurringID = definitionID
		t.OriginalAmount = nullFloat(originalAmount)
		t.OriginalCurrency = nullString(originalCurrency)
		t.ConversionRate = nullFloat(conversionRate)
		t.RateSource = nullString(rateSource)
		if conversionDate.Valid {
			parsed, err := domain.ParseDate(conversionDate.String)
			if err != nil {
				return nil, err
			}
			t.ConversionDate = &parsed
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func dateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(domain.DateLayout)
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
