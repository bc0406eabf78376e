package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/shareregistry/shareledger/internal/audit"
)

const (
	// correctionCutoff bounds the candidate scan; anything dated before it
	// is a correction candidate.
	correctionCutoff = "1900-01-01"
	// mistypedCenturyPrefix marks the historical data-entry error: years
	// entered in the 1800s when the 1900s were intended.
	mistypedCenturyPrefix  = "18"
	correctedCenturyPrefix = "19"

	// DefaultSweepLimit caps candidates per pass so a read-triggered sweep
	// adds bounded latency. Repeated passes converge; one pass need not be
	// complete.
	DefaultSweepLimit = 50
)

// AuditRecorder persists correction events. Failures are logged, never
// propagated into the read path that triggered the sweep.
type AuditRecorder interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Corrector detects and repairs mistyped-century transfer dates. The sweep
// is idempotent: corrected rows no longer carry the "18" prefix and fall
// out of the rewrite set on the next pass.
type Corrector struct {
	repo    RepositoryPort
	auditor AuditRecorder
	logger  *slog.Logger
	limit   int
	group   singleflight.Group
	clock   func() time.Time
}

// NewCorrector initialises the sweep. A nil auditor disables event
// recording; limit <= 0 falls back to DefaultSweepLimit.
func NewCorrector(repo RepositoryPort, auditor AuditRecorder, logger *slog.Logger, limit int) *Corrector {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrector{
		repo:    repo,
		auditor: auditor,
		logger:  logger,
		limit:   limit,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SweepResult summarises one correction pass.
type SweepResult struct {
	Scanned   int
	Corrected int
	Skipped   int
}

// Sweep runs one bounded correction pass. Individual rewrite failures are
// skipped so a broken row never aborts the pass; only the candidate scan
// itself can fail the sweep.
func (c *Corrector) Sweep(ctx context.Context) (SweepResult, error) {
	runID := uuid.New()
	start := c.clock()
	logger := c.logger.With(slog.String("sweep_run", runID.String()))

	candidates, err := c.repo.ListAnomalousDates(ctx, correctionCutoff, c.limit)
	if err != nil {
		logger.Error("date sweep scan failed", slog.Any("error", err))
		return SweepResult{}, err
	}

	result := SweepResult{Scanned: len(candidates)}
	for _, candidate := range candidates {
		if !canonicalDatePattern.MatchString(candidate.TransferDate) {
			// Pass-through values sort as plain text and can land before
			// the cutoff without being chronologically pre-1900. They stay
			// verbatim; only canonical dates carry a century to fix.
			continue
		}
		if !strings.HasPrefix(candidate.TransferDate, mistypedCenturyPrefix) {
			// Pre-1900 but not the known typo (e.g. a genuine 17xx entry).
			continue
		}
		corrected := correctedCenturyPrefix + candidate.TransferDate[len(mistypedCenturyPrefix):]
		rewritten, err := c.repo.RewriteTransferDate(ctx, candidate.ID, candidate.TransferDate, corrected)
		if err != nil {
			result.Skipped++
			logger.Warn("date correction skipped",
				slog.Int64("movement_id", candidate.ID),
				slog.Any("error", err),
			)
			continue
		}
		if !rewritten {
			// Another pass got there first.
			continue
		}
		result.Corrected++
		c.recordCorrection(ctx, logger, runID, candidate, corrected)
	}

	if result.Corrected > 0 || result.Skipped > 0 {
		logger.Info("date sweep completed",
			slog.Int("scanned", result.Scanned),
			slog.Int("corrected", result.Corrected),
			slog.Int("skipped", result.Skipped),
			slog.Duration("duration", c.clock().Sub(start)),
		)
	}
	return result, nil
}

// SweepShared collapses concurrent inline sweeps into a single pass.
// Readers triggering the sweep at the same time share one result.
func (c *Corrector) SweepShared(ctx context.Context) (SweepResult, error) {
	resultChan := c.group.DoChan("date_sweep", func() (any, error) {
		result, err := c.Sweep(context.WithoutCancel(ctx))
		return result, err
	})
	select {
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return SweepResult{}, res.Err
		}
		return res.Val.(SweepResult), nil
	}
}

func (c *Corrector) recordCorrection(ctx context.Context, logger *slog.Logger, runID uuid.UUID, candidate DateAnomaly, corrected string) {
	if c.auditor == nil {
		return
	}
	err := c.auditor.Record(ctx, audit.Event{
		Action:   "ledger.date_corrected",
		Entity:   "movement",
		EntityID: formatMovementID(candidate.ID),
		Meta: map[string]any{
			"sweep_run": runID.String(),
			"from":      candidate.TransferDate,
			"to":        corrected,
		},
		At: c.clock(),
	})
	if err != nil {
		logger.Warn("audit record failed",
			slog.Int64("movement_id", candidate.ID),
			slog.Any("error", err),
		)
	}
}

func formatMovementID(id int64) string {
	return strconv.FormatInt(id, 10)
}
