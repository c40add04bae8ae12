package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
)

// Outbox statuses.
const (
	OutboxPending   = "PENDING"
	OutboxDelivered = "DELIVERED"
	OutboxDiscarded = "DISCARDED"
	OutboxDead      = "DEAD"
)

var (
	// ErrEventNotFound indicates an unknown outbox event id.
	ErrEventNotFound = fmt.Errorf("%w: ledger outbox event not found", shared.ErrNotFound)
	// ErrEventClosed indicates the event was discarded or exhausted its attempts.
	ErrEventClosed = fmt.Errorf("%w: ledger outbox event is closed", shared.ErrConflict)
)

// OutboxEvent is one pending ledger posting.
type OutboxEvent struct {
	ID             int64
	SchoolID       int64
	EventType      string
	AggregateID    int64
	Payload        []byte
	Status         string
	Attempts       int
	AvailableAt    time.Time
	LastError      string
	JournalEntryID *int64
}

// OutboxStats counts events by status.
type OutboxStats struct {
	Pending   int
	Dead      int
	OldestDue *time.Time
}

// OutboxTx exposes the outbox statements run under one transaction.
type OutboxTx interface {
	LockEvent(ctx context.Context, id int64) (OutboxEvent, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]OutboxEvent, error)
	MarkDelivered(ctx context.Context, evt OutboxEvent, journalEntryID int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastErr string, next time.Time, status string) error
}

// OutboxStore is the transactional outbox persistence.
type OutboxStore interface {
	WithTx(ctx context.Context, fn func(context.Context, OutboxTx) error) error
	Stats(ctx context.Context) (OutboxStats, error)
}

// OutboxRepository implements OutboxStore on PostgreSQL.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository constructs the repository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

type outboxTx struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction.
func (r *OutboxRepository) WithTx(ctx context.Context, fn func(context.Context, OutboxTx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &outboxTx{tx: tx})
	})
}

// Stats reports the backlog the relay has yet to drain.
func (r *OutboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	err := r.pool.QueryRow(ctx, `SELECT
	COUNT(*) FILTER (WHERE status='PENDING'),
	COUNT(*) FILTER (WHERE status='DEAD'),
	MIN(available_at) FILTER (WHERE status='PENDING')
FROM ledger_outbox`).Scan(&stats.Pending, &stats.Dead, &stats.OldestDue)
	return stats, err
}

const outboxColumns = `id, school_id, event_type, aggregate_id, payload, status, attempts, available_at, COALESCE(last_error,''), journal_entry_id`

func scanOutbox(row pgx.Row) (OutboxEvent, error) {
	var evt OutboxEvent
	err := row.Scan(&evt.ID, &evt.SchoolID, &evt.EventType, &evt.AggregateID, &evt.Payload, &evt.Status,
		&evt.Attempts, &evt.AvailableAt, &evt.LastError, &evt.JournalEntryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutboxEvent{}, ErrEventNotFound
	}
	return evt, err
}

func (t *outboxTx) LockEvent(ctx context.Context, id int64) (OutboxEvent, error) {
	return scanOutbox(t.tx.QueryRow(ctx, `SELECT `+outboxColumns+` FROM ledger_outbox WHERE id=$1 FOR UPDATE`, id))
}

// ClaimDue locks due pending rows, skipping rows another relay or an inline delivery holds.
func (t *outboxTx) ClaimDue(ctx context.Context, now time.Time, limit int) ([]OutboxEvent, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+outboxColumns+` FROM ledger_outbox
WHERE status='PENDING' AND available_at <= $1
ORDER BY available_at, id
LIMIT $2
FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxEvent
	for rows.Next() {
		evt, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (t *outboxTx) MarkDelivered(ctx context.Context, evt OutboxEvent, journalEntryID int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE ledger_outbox SET status='DELIVERED', journal_entry_id=$2, attempts=attempts+1,
last_error=NULL, delivered_at=NOW(), updated_at=NOW() WHERE id=$1`, evt.ID, journalEntryID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE payments SET journal_entry_id=$2, updated_at=NOW() WHERE id=$1 AND journal_entry_id IS NULL`,
		evt.AggregateID, journalEntryID)
	return err
}

func (t *outboxTx) MarkFailed(ctx context.Context, id int64, attempts int, lastErr string, next time.Time, status string) error {
	_, err := t.tx.Exec(ctx, `UPDATE ledger_outbox SET status=$2, attempts=$3, last_error=$4, available_at=$5, updated_at=NOW() WHERE id=$1`,
		id, status, attempts, lastErr, next)
	return err
}
