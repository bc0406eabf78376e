package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/shareregistry/shareledger/internal/shared"
)

// Service orchestrates the movement ledger behind the request boundary.
// It is the only surface the surrounding application talks to; company
// scoping arrives as an opaque context value and authentication is the
// caller's problem.
type Service struct {
	repo      RepositoryPort
	corrector *Corrector
	balances  *BalanceAggregator
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, corrector *Corrector, balances *BalanceAggregator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, corrector: corrector, balances: balances, logger: logger}
}

// GetPage runs the bounded correction sweep, then returns one canonical
// page of the shareholder's ledger. The sweep and the page read are not
// atomic: a concurrent reader may observe pre- or post-correction values.
// A failed sweep never fails the read.
func (s *Service) GetPage(ctx context.Context, shareholderID string, page, pageSize int) (*MovementPage, error) {
	if shareholderID == "" {
		return nil, shared.Invalidf("shareholder id required")
	}
	if err := shared.ValidatePageWindow(page, pageSize); err != nil {
		return nil, err
	}

	if s.corrector != nil {
		if _, err := s.corrector.SweepShared(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("inline date sweep failed", slog.Any("error", err))
		}
	}

	items, total, err := s.repo.ListPage(ctx, shareholderID, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &MovementPage{
		Items:      items,
		Pagination: shared.NewPagination(page, pageSize, total),
	}, nil
}

// CreateMovement normalizes the transfer date and stores the movement.
func (s *Service) CreateMovement(ctx context.Context, input CreateMovementInput) (*Movement, error) {
	if input.ShareholderID == "" {
		return nil, shared.Invalidf("shareholder id required")
	}
	input.TransferDate = NormalizeTransferDate(input.TransferDate)

	movement, err := s.repo.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if s.balances != nil {
		s.balances.Invalidate(ctx, movement.ShareholderID)
	}
	return movement, nil
}

// UpdateMovement applies an allow-listed partial update. The patch has
// already been filtered and normalized by ParseUpdatePatch.
func (s *Service) UpdateMovement(ctx context.Context, id int64, patch UpdatePatch) (*Movement, error) {
	if id <= 0 {
		return nil, shared.Invalidf("movement id required")
	}
	movement, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if s.balances != nil {
		s.balances.Invalidate(ctx, movement.ShareholderID)
	}
	return movement, nil
}

// Balances returns the latest known balance per requested shareholder.
func (s *Service) Balances(ctx context.Context, shareholderIDs []string) (map[string]decimal.Decimal, error) {
	return s.balances.Latest(ctx, shareholderIDs)
}

// Export returns the shareholder's full ledger in canonical order.
func (s *Service) Export(ctx context.Context, shareholderID string) ([]Movement, error) {
	if shareholderID == "" {
		return nil, shared.Invalidf("shareholder id required")
	}
	return s.repo.ListAll(ctx, shareholderID)
}
