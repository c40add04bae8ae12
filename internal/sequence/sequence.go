// Package sequence issues human readable document numbers from an atomic per-school counter.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const nextSQL = `INSERT INTO document_sequences (school_id, scope, last_value, updated_at)
VALUES ($1, $2, $3 + 1, NOW())
ON CONFLICT (school_id, scope) DO UPDATE
SET last_value = GREATEST(document_sequences.last_value, EXCLUDED.last_value - 1) + 1, updated_at = NOW()
RETURNING last_value`

// Next increments the (school, scope) counter and returns the new value. floor is the highest
// number already issued under scope; the counter never returns a value at or below it, which
// lets the table be introduced over existing documents.
func Next(ctx context.Context, q Querier, schoolID int64, scope string, floor int64) (int64, error) {
	if schoolID == 0 {
		return 0, errors.New("sequence: school id required")
	}
	if scope == "" {
		return 0, errors.New("sequence: scope required")
	}
	if floor < 0 {
		floor = 0
	}
	var value int64
	if err := q.QueryRow(ctx, nextSQL, schoolID, scope, floor).Scan(&value); err != nil {
		return 0, fmt.Errorf("sequence: next %s: %w", scope, err)
	}
	return value, nil
}

// InvoiceScope returns the per-year invoice prefix, e.g. INV-2025.
func InvoiceScope(base string, year int) string {
	return fmt.Sprintf("%s-%d", base, year)
}

// ReceiptScope returns the per-day receipt prefix, e.g. RCP-20250401.
func ReceiptScope(base string, day time.Time) string {
	return fmt.Sprintf("%s-%s", base, day.Format("20060102"))
}

// Format renders scope and a zero padded sequence, e.g. INV-2025-0007.
func Format(scope string, n int64) string {
	return fmt.Sprintf("%s-%04d", scope, n)
}
