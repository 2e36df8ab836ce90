package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultReclaimAfter is how long a claimed but unpublished row stays invisible.
const DefaultReclaimAfter = 5 * time.Minute

// PostgresQueue implements Queue over the outbox and outbox_dlq tables.
type PostgresQueue struct {
	pool         *pgxpool.Pool
	reclaimAfter time.Duration
}

// NewPostgresQueue constructs a queue backed by pool.
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{pool: pool, reclaimAfter: DefaultReclaimAfter}
}

// Claim locks up to limit unpublished rows and stamps claimed_at.
func (q *PostgresQueue) Claim(ctx context.Context, limit int) (messages []Message, err error) {
	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const query = `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
          AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, limit, q.reclaimAfter.Seconds())
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.PartitionKey, &msg.Payload); err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
		ids = append(ids, msg.EventID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, tx.Rollback(ctx)
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// MarkPublished stamps published_at on the given rows.
func (q *PostgresQueue) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// MoveToDLQ records failed messages for investigation in one transaction.
func (q *PostgresQueue) MoveToDLQ(ctx context.Context, messages []Message, reason string) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, msg := range messages {
		batch.Queue(
			`INSERT INTO outbox_dlq (event_id, event_type, topic, aggregate_type, aggregate_id, partition_key, payload, reason)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			msg.EventID, msg.EventType, msg.Topic, msg.AggregateType, msg.AggregateID, msg.PartitionKey, msg.Payload, reason+" (topic="+msg.Topic+")",
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
