package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shareregistry/shareledger/internal/ledger"
)

// maxSweepPasses bounds a single task even when the backlog is deep; the
// scheduler will run again.
const maxSweepPasses = 20

// DateSweepJob runs the scheduled variant of the anomalous-date correction
// sweep. It shares the Corrector with the read-triggered pre-pass, so both
// placements satisfy the same idempotence and boundedness contract.
type DateSweepJob struct {
	Corrector *ledger.Corrector
	Logger    *slog.Logger
	clock     func() time.Time
}

// NewDateSweepJob initialises the sweep handler.
func NewDateSweepJob(corrector *ledger.Corrector, logger *slog.Logger) *DateSweepJob {
	return &DateSweepJob{
		Corrector: corrector,
		Logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sweep task.
func (j *DateSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Corrector == nil {
		return errors.New("date sweep: handler not configured")
	}
	var payload DateSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	passes := payload.Passes
	if passes <= 0 {
		passes = 1
	}
	if passes > maxSweepPasses {
		passes = maxSweepPasses
	}

	start := j.now()
	logger := j.logger().With(slog.Int("passes", passes))
	logger.Info("starting date sweep")

	var corrected, scanned int
	for i := 0; i < passes; i++ {
		result, err := j.Corrector.Sweep(ctx)
		if err != nil {
			logger.Error("date sweep failed", slog.Any("error", err))
			return err
		}
		corrected += result.Corrected
		scanned += result.Scanned
		if result.Corrected == 0 {
			// Converged; remaining candidates are not the known typo.
			break
		}
	}

	logger.Info("completed date sweep",
		slog.Int("scanned", scanned),
		slog.Int("corrected", corrected),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *DateSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerDateSweep))
	}
	return slog.Default().With(slog.String("job", TaskLedgerDateSweep))
}

func (j *DateSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
