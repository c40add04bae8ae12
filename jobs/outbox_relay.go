package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/aamirsofi/fee-module-sub001/internal/integration"
	jobmetrics "github.com/aamirsofi/fee-module-sub001/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// OutboxRelayer drains the ledger outbox.
type OutboxRelayer interface {
	ProcessPending(ctx context.Context, limit int) (integration.RelayResult, error)
	Stats(ctx context.Context) (integration.OutboxStats, error)
}

// OutboxRelayJob posts journal entries for payments whose inline posting failed.
type OutboxRelayJob struct {
	Relay     OutboxRelayer
	BatchSize int
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewOutboxRelayJob wires dependencies for the relay handler.
func NewOutboxRelayJob(relay OutboxRelayer, batchSize int, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxRelayJob {
	return &OutboxRelayJob{Relay: relay, BatchSize: batchSize, Logger: logger, Metrics: metrics}
}

// Handle processes relay tasks.
func (j *OutboxRelayJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Relay == nil {
		return errors.New("outbox relay: handler not configured")
	}
	var payload OutboxRelayPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	limit := payload.BatchSize
	if limit <= 0 {
		limit = j.BatchSize
	}

	tracker := j.metrics().Track(TaskLedgerOutboxRelay)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	result, err := j.Relay.ProcessPending(ctx, limit)
	if err != nil {
		logger.Error("relay ledger outbox", slog.Any("error", err))
		return err
	}
	stats, err := j.Relay.Stats(ctx)
	if err != nil {
		logger.Warn("outbox stats", slog.Any("error", err))
		return nil
	}
	j.metrics().SetOutboxBacklog(stats.Pending, stats.Dead)
	if result.Dead > 0 || stats.Dead > 0 {
		logger.Warn("ledger outbox has dead events", slog.Int("dead", stats.Dead), slog.Int("new_dead", result.Dead))
	}
	return nil
}

func (j *OutboxRelayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerOutboxRelay))
	}
	return slog.Default().With(slog.String("job", TaskLedgerOutboxRelay))
}

func (j *OutboxRelayJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
