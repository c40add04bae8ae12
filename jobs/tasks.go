package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerOutboxRelay drains due ledger outbox events into the journal.
	TaskLedgerOutboxRelay = "ledger:outbox_relay"
	// TaskFeesGenerateMonthly runs the automatic fee generation for every school.
	TaskFeesGenerateMonthly = "fees:generate_monthly"
)

// OutboxRelayPayload bounds one relay pass.
type OutboxRelayPayload struct {
	BatchSize int `json:"batch_size"`
}

// NewOutboxRelayTask constructs the relay task.
func NewOutboxRelayTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(OutboxRelayPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerOutboxRelay, body, asynq.Queue(QueueDefault)), nil
}

// MonthlyGenerationPayload names the billing month; empty means the month the task runs in.
type MonthlyGenerationPayload struct {
	Period string `json:"period,omitempty"`
}

// NewMonthlyGenerationTask constructs the automatic generation task. The cron registration
// passes an empty period so each firing bills its own month.
func NewMonthlyGenerationTask(period string) (*asynq.Task, error) {
	body, err := json.Marshal(MonthlyGenerationPayload{Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFeesGenerateMonthly, body, asynq.Queue(QueueDefault), asynq.Timeout(2*time.Hour)), nil
}
