package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Replay outcomes.
const (
	ReplayRequeued    = "requeued"
	ReplayRetry       = "retry"
	ReplayQuarantined = "quarantined"
)

// DLQReplayer puts dead-lettered events back on the outbox, backing off between
// attempts and quarantining entries that keep failing.
type DLQReplayer struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

// NewDLQReplayer constructs a replayer. Non-positive values fall back to 5 retries
// and a one minute base delay.
func NewDLQReplayer(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration, logger zerolog.Logger) *DLQReplayer {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQReplayer{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay, logger: logger}
}

// ReplayResult counts what one pass did.
type ReplayResult struct {
	Requeued    int `json:"requeued"`
	Retrying    int `json:"retrying"`
	Quarantined int `json:"quarantined"`
}

type dlqEntry struct {
	ID         int64
	EventID    int64
	RetryCount int
}

// RunOnce processes up to batchSize eligible entries. Per-entry failures are joined
// into the returned error and do not stop the pass.
func (r *DLQReplayer) RunOnce(ctx context.Context, batchSize int) (ReplayResult, error) {
	const query = `SELECT id, event_id, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at
        LIMIT $1`

	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return ReplayResult{}, err
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (dlqEntry, error) {
		var e dlqEntry
		err := row.Scan(&e.ID, &e.EventID, &e.RetryCount)
		return e, err
	})
	if err != nil {
		return ReplayResult{}, err
	}

	var (
		result ReplayResult
		errs   []error
	)
	for _, entry := range entries {
		outcome, err := r.handle(ctx, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		dlqReplayCounter.WithLabelValues(outcome).Inc()
		switch outcome {
		case ReplayRequeued:
			result.Requeued++
		case ReplayRetry:
			result.Retrying++
		case ReplayQuarantined:
			result.Quarantined++
		}
	}

	r.logger.Info().
		Int("requeued", result.Requeued).
		Int("retrying", result.Retrying).
		Int("quarantined", result.Quarantined).
		Msg("dlq replay pass finished")
	return result, errors.Join(errs...)
}

func (r *DLQReplayer) handle(ctx context.Context, entry dlqEntry) (outcome string, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if entry.RetryCount >= r.maxRetries {
		if _, err = tx.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE id = $2`,
			"retry limit reached", entry.ID); err != nil {
			return "", err
		}
		return ReplayQuarantined, tx.Commit(ctx)
	}

	// The original outbox row keeps its dedupe key; clearing the stamps makes the
	// dispatcher pick it up again.
	tag, err := tx.Exec(ctx,
		`UPDATE outbox SET published_at = NULL, claimed_at = NULL WHERE event_id = $1`, entry.EventID)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		delay := BackoffDelay(r.baseDelay, entry.RetryCount+1)
		if _, err = tx.Exec(ctx,
			`UPDATE outbox_dlq
               SET retry_count = retry_count + 1,
                   last_attempt_at = NOW(),
                   next_retry_at = NOW() + make_interval(secs => $1),
                   reason = $2
             WHERE id = $3`,
			delay.Seconds(), fmt.Sprintf("outbox event %d no longer exists", entry.EventID), entry.ID); err != nil {
			return "", err
		}
		return ReplayRetry, tx.Commit(ctx)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE id = $1`, entry.ID); err != nil {
		return "", err
	}
	return ReplayRequeued, tx.Commit(ctx)
}

// BackoffDelay doubles base for each attempt, capped at one hour.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return time.Hour
	}
	delay := time.Duration(1<<uint(attempt-1)) * base
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
