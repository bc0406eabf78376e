package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerDateSweep corrects mistyped-century transfer dates.
	TaskLedgerDateSweep = "ledger:date_sweep"
)

// DateSweepPayload tunes one sweep invocation.
type DateSweepPayload struct {
	// Passes chains several bounded sweeps in one task so the nightly run
	// converges faster than the per-read pre-pass. Zero means one pass.
	Passes int `json:"passes"`
}

// NewDateSweepTask constructs an Asynq task.
func NewDateSweepTask(payload DateSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerDateSweep, data), nil
}
