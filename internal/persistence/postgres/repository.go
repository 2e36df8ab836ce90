// Package postgres stores recurring definitions, ledger rows and outbox events in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/recurring/internal/auth"
	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/outbox"
)

const occurrenceConstraint = "transactions_occurrence_unique"

// Repository provides Postgres-backed persistence for the engine.
type Repository struct {
	pool        *pgxpool.Pool
	outboxTopic string
	now         func() time.Time
}

// Option customises a Repository.
type Option func(*Repository)

// WithOutboxTopic records a ledger event for every inserted row, in the same transaction.
func WithOutboxTopic(topic string) Option {
	return func(r *Repository) {
		r.outboxTopic = topic
	}
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const definitionColumns = `id, user_id, amount::float8, currency, type, category, description, recipient, is_chomesh,
        frequency, day_of_month::int, original_amount::float8, original_currency, conversion_rate::float8, conversion_date,
        rate_source, next_due_date, execution_count, status, total_occurrences`

// DueDefinitions returns active definitions with next_due_date <= today.
func (r *Repository) DueDefinitions(ctx context.Context, today time.Time) ([]domain.Definition, error) {
	query := `SELECT ` + definitionColumns + `
        FROM recurring_transactions
        WHERE status = 'active' AND next_due_date <= $1
        ORDER BY next_due_date, id`

	rows, err := r.pool.Query(ctx, query, domain.DateOf(today))
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return defs, nil
}

// Definition fetches one definition by id.
func (r *Repository) Definition(ctx context.Context, id string) (*domain.Definition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+definitionColumns+` FROM recurring_transactions WHERE id = $1`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func scanDefinition(row pgx.Row) (domain.Definition, error) {
	var (
		def       domain.Definition
		frequency string
		status    string
	)
	err := row.Scan(
		&def.ID, &def.UserID, &def.Amount, &def.Currency, &def.Type, &def.Category, &def.Description, &def.Recipient, &def.IsChomesh,
		&frequency, &def.DayOfMonth, &def.OriginalAmount, &def.OriginalCurrency, &def.ConversionRate, &def.ConversionDate,
		&def.RateSource, &def.NextDueDate, &def.ExecutionCount, &status, &def.TotalOccurrences,
	)
	if err != nil {
		return domain.Definition{}, err
	}
	def.Frequency = domain.Frequency(frequency)
	def.Status = domain.Status(status)
	return def, nil
}

// DefaultCurrency returns the user's profile currency.
func (r *Repository) DefaultCurrency(ctx context.Context, userID string) (string, error) {
	var currency *string
	err := r.pool.QueryRow(ctx, `SELECT default_currency FROM profiles WHERE id = $1`, userID).Scan(&currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrProfileNotFound
	}
	if err != nil {
		return "", err
	}
	if currency == nil {
		return "", nil
	}
	return *currency, nil
}

// InsertTransaction persists a ledger row and, when configured, its outbox event.
func (r *Repository) InsertTransaction(ctx context.Context, t domain.LedgerTransaction) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const insertTransaction = `INSERT INTO transactions (id, user_id, date, amount, currency, type, description, category, recipient, is_chomesh,
        source_recurring_id, occurrence_number, original_amount, original_currency, conversion_rate, conversion_date, rate_source)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`

	_, err = tx.Exec(ctx, insertTransaction,
		t.ID, t.UserID, t.Date, t.Amount, t.Currency, t.Type, t.Description, t.Category, t.Recipient, t.IsChomesh,
		t.SourceRecurringID, t.OccurrenceNumber, t.OriginalAmount, t.OriginalCurrency, t.ConversionRate, t.ConversionDate, t.RateSource,
	)
	if err != nil {
		return translate(err)
	}

	if r.outboxTopic != "" {
		if err = r.insertOutbox(ctx, tx, t); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, t domain.LedgerTransaction) error {
	record, err := outbox.RecordFor(r.outboxTopic, t, r.now())
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		record.AggregateType,
		record.AggregateID,
		record.EventType,
		record.Topic,
		record.PartitionKey,
		record.Payload,
		record.DedupeKey,
	)
	return err
}

// SaveProgress writes the engine-owned columns, conditional on the previously read due date.
func (r *Repository) SaveProgress(ctx context.Context, definitionID string, previousDueDate time.Time, p domain.Progress) error {
	const stmt = `UPDATE recurring_transactions
        SET execution_count = $2, next_due_date = $3, status = $4, updated_at = NOW()
        WHERE id = $1 AND next_due_date = $5 AND status = 'active'`

	tag, err := r.pool.Exec(ctx, stmt, definitionID, p.ExecutionCount, domain.DateOf(p.NextDueDate), string(p.Status), domain.DateOf(previousDueDate))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("definition %s: %w", definitionID, domain.ErrProgressConflict)
	}
	return nil
}

// ProbeDefinitions performs a one-row read with the caller's JWT claims applied to the
// session, the way row-level security policies see them.
func (r *Repository) ProbeDefinitions(ctx context.Context, claimsJSON []byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('request.jwt.claims', $1, true)", string(claimsJSON)); err != nil {
		return translateProbe(err)
	}

	var id string
	err = tx.QueryRow(ctx, `SELECT id FROM recurring_transactions LIMIT 1`).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return translateProbe(err)
	}
	return nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == occurrenceConstraint {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateOccurrence, pgErr.Detail)
	}
	return err
}

func translateProbe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501", "28000", "28P01":
			return fmt.Errorf("%w: %s", auth.ErrProbeRejected, pgErr.Message)
		}
	}
	return err
}
