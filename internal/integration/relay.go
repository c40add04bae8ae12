package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aamirsofi/fee-module-sub001/internal/payments"
)

// PaymentPoster posts payment journals.
type PaymentPoster interface {
	PostPaymentRecorded(ctx context.Context, evt payments.LedgerEvent) (int64, error)
}

// RelayMetrics receives outbox delivery outcomes.
type RelayMetrics interface {
	AddOutbox(result string, count int)
}

// RelayConfig bounds retries.
type RelayConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// RelayResult summarises one relay pass.
type RelayResult struct {
	Claimed   int
	Delivered int
	Failed    int
	Dead      int
}

// Relay delivers ledger outbox events to the ledger.
type Relay struct {
	store   OutboxStore
	poster  PaymentPoster
	metrics RelayMetrics
	logger  *slog.Logger
	cfg     RelayConfig
	now     func() time.Time
}

// NewRelay constructs a relay. metrics may be nil.
func NewRelay(store OutboxStore, poster PaymentPoster, metrics RelayMetrics, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, poster: poster, metrics: metrics, logger: logger, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (r *Relay) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Deliver posts one event now. A delivered event returns its journal entry id again.
func (r *Relay) Deliver(ctx context.Context, eventID int64) (int64, error) {
	var (
		entryID int64
		postErr error
	)
	err := r.store.WithTx(ctx, func(ctx context.Context, tx OutboxTx) error {
		evt, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		switch evt.Status {
		case OutboxDelivered:
			if evt.JournalEntryID != nil {
				entryID = *evt.JournalEntryID
			}
			return nil
		case OutboxDiscarded, OutboxDead:
			return fmt.Errorf("%w: event %d is %s", ErrEventClosed, evt.ID, evt.Status)
		}
		entryID, postErr, err = r.attempt(ctx, tx, evt)
		return err
	})
	if err != nil {
		return 0, err
	}
	if postErr != nil {
		return 0, postErr
	}
	return entryID, nil
}

// ProcessPending drains up to limit due events.
func (r *Relay) ProcessPending(ctx context.Context, limit int) (RelayResult, error) {
	if limit <= 0 {
		limit = 100
	}
	var result RelayResult
	err := r.store.WithTx(ctx, func(ctx context.Context, tx OutboxTx) error {
		events, err := tx.ClaimDue(ctx, r.now(), limit)
		if err != nil {
			return err
		}
		result.Claimed = len(events)
		for _, evt := range events {
			_, postErr, err := r.attempt(ctx, tx, evt)
			if err != nil {
				return err
			}
			switch {
			case postErr == nil:
				result.Delivered++
			case evt.Attempts+1 >= r.cfg.MaxAttempts:
				result.Dead++
			default:
				result.Failed++
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}
	if r.metrics != nil {
		r.metrics.AddOutbox("delivered", result.Delivered)
		r.metrics.AddOutbox("failed", result.Failed)
		r.metrics.AddOutbox("dead", result.Dead)
	}
	if result.Claimed > 0 {
		r.logger.Info("ledger outbox relayed",
			slog.Int("claimed", result.Claimed),
			slog.Int("delivered", result.Delivered),
			slog.Int("failed", result.Failed),
			slog.Int("dead", result.Dead))
	}
	return result, nil
}

// Stats exposes the store backlog.
func (r *Relay) Stats(ctx context.Context) (OutboxStats, error) {
	return r.store.Stats(ctx)
}

// attempt posts evt and records the outcome on the row. postErr is the ledger failure, err a
// failure to persist the outcome.
func (r *Relay) attempt(ctx context.Context, tx OutboxTx, evt OutboxEvent) (entryID int64, postErr error, err error) {
	entryID, postErr = r.post(ctx, evt)
	if postErr == nil {
		return entryID, nil, tx.MarkDelivered(ctx, evt, entryID)
	}
	attempts := evt.Attempts + 1
	status := OutboxPending
	if attempts >= r.cfg.MaxAttempts {
		status = OutboxDead
	}
	next := r.now().Add(r.backoff(attempts))
	r.logger.Warn("ledger outbox delivery failed",
		slog.Int64("outbox_event_id", evt.ID),
		slog.Int64("school_id", evt.SchoolID),
		slog.String("event_type", evt.EventType),
		slog.Int("attempts", attempts),
		slog.String("status", status),
		slog.Any("error", postErr))
	return 0, postErr, tx.MarkFailed(ctx, evt.ID, attempts, postErr.Error(), next, status)
}

func (r *Relay) post(ctx context.Context, evt OutboxEvent) (int64, error) {
	switch evt.EventType {
	case payments.EventPaymentRecorded:
		var payload payments.LedgerEvent
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return 0, fmt.Errorf("integration: decode %s payload: %w", evt.EventType, err)
		}
		return r.poster.PostPaymentRecorded(ctx, payload)
	default:
		return 0, fmt.Errorf("integration: unknown outbox event type %q", evt.EventType)
	}
}

// backoff doubles from BaseBackoff per attempt up to MaxBackoff.
func (r *Relay) backoff(attempts int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	return d
}
