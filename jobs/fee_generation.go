package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aamirsofi/fee-module-sub001/internal/fees"
	jobmetrics "github.com/aamirsofi/fee-module-sub001/internal/jobs"
)

// ScheduledGenerator runs the automatic generation across schools.
type ScheduledGenerator interface {
	RunScheduled(ctx context.Context, period string) ([]fees.Result, error)
}

// MonthlyGenerationJob is the timer that drives automatic fee generation.
type MonthlyGenerationJob struct {
	Fees    ScheduledGenerator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewMonthlyGenerationJob wires dependencies for the generation handler.
func NewMonthlyGenerationJob(generator ScheduledGenerator, logger *slog.Logger, metrics *jobmetrics.Metrics) *MonthlyGenerationJob {
	return &MonthlyGenerationJob{
		Fees:    generator,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes monthly generation tasks. Schools that fail are retried by asynq; the
// generation lock and existing-fee skips make the retry safe.
func (j *MonthlyGenerationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Fees == nil {
		return errors.New("monthly generation: handler not configured")
	}
	var payload MonthlyGenerationPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Period == "" {
		payload.Period = j.now().Format("2006-01")
	}
	if _, err := time.Parse("2006-01", payload.Period); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskFeesGenerateMonthly)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("period", payload.Period))
	logger.Info("starting automatic fee generation")
	start := j.now()
	results, err := j.Fees.RunScheduled(ctx, payload.Period)
	generated, failed := 0, 0
	for _, res := range results {
		generated += res.Generated
		failed += res.Failed
	}
	if err != nil {
		logger.Error("automatic fee generation", slog.Int("schools", len(results)), slog.Any("error", err))
		return err
	}
	logger.Info("completed automatic fee generation",
		slog.Int("schools", len(results)),
		slog.Int("generated", generated),
		slog.Int("failed", failed),
		slog.Duration("duration", j.now().Sub(start)))
	return nil
}

func (j *MonthlyGenerationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFeesGenerateMonthly))
	}
	return slog.Default().With(slog.String("job", TaskFeesGenerateMonthly))
}

func (j *MonthlyGenerationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *MonthlyGenerationJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
