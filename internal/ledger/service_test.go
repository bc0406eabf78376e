package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shareregistry/shareledger/internal/shared"
)

func strPtr(s string) *string { return &s }

func qty(s string) decimal.NullDecimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// memoryLedgerRepo is an in-memory RepositoryPort used across the package
// tests. It mirrors the store's canonical ordering semantics.
type memoryLedgerRepo struct {
	mu           sync.Mutex
	movements    map[int64]*Movement
	nextID       int64
	rewriteErrs  map[int64]error
	scanCalls    int
	balanceCalls int
	scanGate     chan struct{}
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		movements:   make(map[int64]*Movement),
		rewriteErrs: make(map[int64]error),
	}
}

func canonicalLess(a, b *Movement) bool {
	switch {
	case a.TransferDate == nil && b.TransferDate != nil:
		return true
	case a.TransferDate != nil && b.TransferDate == nil:
		return false
	case a.TransferDate != nil && b.TransferDate != nil && *a.TransferDate != *b.TransferDate:
		return *a.TransferDate < *b.TransferDate
	}
	return a.ID < b.ID
}

func (r *memoryLedgerRepo) ordered(shareholderID string) []Movement {
	var out []*Movement
	for _, m := range r.movements {
		if shareholderID == "" || m.ShareholderID == shareholderID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return canonicalLess(out[i], out[j]) })
	items := make([]Movement, len(out))
	for i, m := range out {
		items[i] = *m
	}
	return items
}

func (r *memoryLedgerRepo) ListPage(ctx context.Context, shareholderID string, page, pageSize int) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.ordered(shareholderID)
	total := len(all)
	start := page * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *memoryLedgerRepo) ListAll(ctx context.Context, shareholderID string) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ordered(shareholderID), nil
}

func (r *memoryLedgerRepo) Create(ctx context.Context, input CreateMovementInput) (*Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now()
	m := &Movement{
		ID:                      r.nextID,
		ShareholderID:           input.ShareholderID,
		TransferDate:            input.TransferDate,
		TransferNumber:          input.TransferNumber,
		VoidedCertificate:       input.VoidedCertificate,
		PurchasedFrom:           input.PurchasedFrom,
		SoldTo:                  input.SoldTo,
		NewBuyerCertificate:     input.NewBuyerCertificate,
		NewSellerCertificate:    input.NewSellerCertificate,
		IssuedCertificateNumber: input.IssuedCertificateNumber,
		Observations:            input.Observations,
		PurchasedQuantity:       input.PurchasedQuantity,
		SoldQuantity:            input.SoldQuantity,
		BalanceAfter:            input.BalanceAfter,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	r.movements[m.ID] = m
	copied := *m
	return &copied, nil
}

func (r *memoryLedgerRepo) Update(ctx context.Context, id int64, patch UpdatePatch) (*Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.movements[id]
	if !ok {
		return nil, fmt.Errorf("ledger: update movement: %w", shared.ErrNotFound)
	}
	for key, value := range patch {
		switch key {
		case FieldTransferDate:
			m.TransferDate = value.(*string)
		case FieldTransferNumber:
			m.TransferNumber = value.(*string)
		case FieldVoidedCertificate:
			m.VoidedCertificate = value.(*string)
		case FieldPurchasedFrom:
			m.PurchasedFrom = value.(*string)
		case FieldSoldTo:
			m.SoldTo = value.(*string)
		case FieldNewBuyerCertificate:
			m.NewBuyerCertificate = value.(*string)
		case FieldNewSellerCertificate:
			m.NewSellerCertificate = value.(*string)
		case FieldIssuedCertificateNumber:
			m.IssuedCertificateNumber = value.(*string)
		case FieldObservations:
			m.Observations = value.(*string)
		case FieldPurchasedQuantity:
			m.PurchasedQuantity = value.(decimal.NullDecimal)
		case FieldSoldQuantity:
			m.SoldQuantity = value.(decimal.NullDecimal)
		case FieldBalanceAfter:
			m.BalanceAfter = value.(decimal.NullDecimal)
		}
	}
	m.UpdatedAt = time.Now()
	copied := *m
	return &copied, nil
}

func (r *memoryLedgerRepo) ListAnomalousDates(ctx context.Context, before string, limit int) ([]DateAnomaly, error) {
	r.mu.Lock()
	gate := r.scanGate
	r.scanCalls++
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, m := range r.movements {
		if m.TransferDate != nil && *m.TransferDate < before {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	anomalies := make([]DateAnomaly, 0, len(ids))
	for _, id := range ids {
		anomalies = append(anomalies, DateAnomaly{ID: id, TransferDate: *r.movements[id].TransferDate})
	}
	return anomalies, nil
}

func (r *memoryLedgerRepo) RewriteTransferDate(ctx context.Context, id int64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.rewriteErrs[id]; err != nil {
		return false, err
	}
	m, ok := r.movements[id]
	if !ok || m.TransferDate == nil || *m.TransferDate != from {
		return false, nil
	}
	m.TransferDate = &to
	return true, nil
}

func (r *memoryLedgerRepo) ListBalanceRows(ctx context.Context, shareholderIDs []string) ([]BalanceRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balanceCalls++
	wanted := make(map[string]bool, len(shareholderIDs))
	for _, id := range shareholderIDs {
		wanted[id] = true
	}
	var rows []BalanceRow
	for _, m := range r.ordered("") {
		if wanted[m.ShareholderID] {
			rows = append(rows, BalanceRow{ShareholderID: m.ShareholderID, BalanceAfter: m.BalanceAfter})
		}
	}
	return rows, nil
}

func newTestService(repo *memoryLedgerRepo) *Service {
	corrector := NewCorrector(repo, nil, testLogger(), DefaultSweepLimit)
	balances := NewBalanceAggregator(repo, nil, testLogger())
	return NewService(repo, corrector, balances, testLogger())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetPagePartition(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	// 23 movements with repeated and missing dates to force tie-breaks.
	dates := []*string{
		strPtr("1998-01-05"), strPtr("1998-01-05"), strPtr("1997-12-31"), nil,
		strPtr("2001-06-01"), strPtr("1998-01-05"), strPtr("1950-02-02"), nil,
		strPtr("1999-03-03"), strPtr("2001-06-01"), strPtr("1950-02-02"),
		strPtr("2020-10-10"), strPtr("1998-01-05"), strPtr("1997-12-31"),
		strPtr("2001-06-01"), nil, strPtr("1950-02-02"), strPtr("1999-03-03"),
		strPtr("2020-10-10"), strPtr("1998-01-06"), strPtr("1997-11-11"),
		strPtr("2003-03-03"), strPtr("1998-01-05"),
	}
	for _, d := range dates {
		_, err := svc.CreateMovement(ctx, CreateMovementInput{ShareholderID: "S1", TransferDate: d})
		require.NoError(t, err)
	}
	// A different shareholder's movement must never leak in.
	_, err := svc.CreateMovement(ctx, CreateMovementInput{ShareholderID: "S2", TransferDate: strPtr("1998-01-05")})
	require.NoError(t, err)

	const pageSize = 5
	var collected []Movement
	for page := 0; ; page++ {
		result, err := svc.GetPage(ctx, "S1", page, pageSize)
		require.NoError(t, err)
		require.Equal(t, len(dates), result.Pagination.Total)
		require.LessOrEqual(t, len(result.Items), pageSize)
		if len(result.Items) == 0 {
			break
		}
		collected = append(collected, result.Items...)
	}

	require.Len(t, collected, len(dates))

	seen := make(map[int64]bool)
	for _, m := range collected {
		require.Equal(t, "S1", m.ShareholderID)
		require.False(t, seen[m.ID], "movement %d appeared twice", m.ID)
		seen[m.ID] = true
	}

	for i := 1; i < len(collected); i++ {
		prev, cur := collected[i-1], collected[i]
		if prev.TransferDate == nil {
			continue
		}
		require.NotNil(t, cur.TransferDate, "dated movement ordered before undated one")
		if *prev.TransferDate == *cur.TransferDate {
			require.Less(t, prev.ID, cur.ID)
		} else {
			require.Less(t, *prev.TransferDate, *cur.TransferDate)
		}
	}
}

func TestGetPageValidation(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	ctx := context.Background()

	_, err := svc.GetPage(ctx, "", 0, 50)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.GetPage(ctx, "S1", -1, 50)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.GetPage(ctx, "S1", 0, 0)
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestCreateMovementRequiresShareholder(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	_, err := svc.CreateMovement(context.Background(), CreateMovementInput{})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestCreateThenListNormalizesDate(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	ctx := context.Background()

	created, err := svc.CreateMovement(ctx, CreateMovementInput{
		ShareholderID:     "S1",
		TransferDate:      strPtr("05-01-1998"),
		PurchasedQuantity: qty("10"),
		BalanceAfter:      qty("10"),
	})
	require.NoError(t, err)
	require.NotNil(t, created.TransferDate)
	require.Equal(t, "1998-01-05", *created.TransferDate)

	result, err := svc.GetPage(ctx, "S1", 0, 50)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "1998-01-05", *result.Items[0].TransferDate)
	require.True(t, result.Items[0].BalanceAfter.Valid)
	require.True(t, result.Items[0].BalanceAfter.Decimal.Equal(decimal.NewFromInt(10)))
}

func TestGetPageKeepsVerbatimDatesThroughSweep(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	ctx := context.Background()

	// Unrecognised input is stored verbatim; the pre-read sweep must not
	// mistake its leading digits for a mistyped century.
	created, err := svc.CreateMovement(ctx, CreateMovementInput{
		ShareholderID: "S1",
		TransferDate:  strPtr("18.03.1954"),
	})
	require.NoError(t, err)
	require.Equal(t, "18.03.1954", *created.TransferDate)

	result, err := svc.GetPage(ctx, "S1", 0, 50)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "18.03.1954", *result.Items[0].TransferDate)
}

func TestUpdateMovementNotFound(t *testing.T) {
	svc := newTestService(newMemoryLedgerRepo())
	_, err := svc.UpdateMovement(context.Background(), 404, UpdatePatch{FieldObservations: strPtr("x")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestParseUpdatePatchAllowList(t *testing.T) {
	raw := map[string]json.RawMessage{
		"transfer_date":  json.RawMessage(`"22/09/1954"`),
		"observations":   json.RawMessage(`"corrected entry"`),
		"balance_after":  json.RawMessage(`"125.5"`),
		"shareholder_id": json.RawMessage(`"S9"`),
		"id":             json.RawMessage(`999`),
		"is_admin":       json.RawMessage(`true`),
	}
	patch, err := ParseUpdatePatch(raw)
	require.NoError(t, err)
	require.Len(t, patch, 3)
	require.Equal(t, "1954-09-22", *patch[FieldTransferDate].(*string))
	require.Equal(t, "corrected entry", *patch[FieldObservations].(*string))
	require.True(t, patch[FieldBalanceAfter].(decimal.NullDecimal).Decimal.Equal(decimal.RequireFromString("125.5")))
}

func TestParseUpdatePatchRejectsNonNumericQuantity(t *testing.T) {
	_, err := ParseUpdatePatch(map[string]json.RawMessage{
		"purchased_quantity": json.RawMessage(`"lots"`),
	})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestUpdateIgnoredFieldsHaveNoEffect(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateMovement(ctx, CreateMovementInput{
		ShareholderID: "S1",
		Observations:  strPtr("original"),
	})
	require.NoError(t, err)

	raw := map[string]json.RawMessage{
		"shareholder_id": json.RawMessage(`"S2"`),
		"sold_to":        json.RawMessage(`"Jones"`),
	}
	patch, err := ParseUpdatePatch(raw)
	require.NoError(t, err)

	updated, err := svc.UpdateMovement(ctx, created.ID, patch)
	require.NoError(t, err)
	require.Equal(t, "S1", updated.ShareholderID)
	require.Equal(t, "Jones", *updated.SoldTo)
	require.Equal(t, "original", *updated.Observations)
}

func TestUpdateClearsFieldWithNull(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.CreateMovement(ctx, CreateMovementInput{
		ShareholderID: "S1",
		SoldTo:        strPtr("Smith"),
		BalanceAfter:  qty("7"),
	})
	require.NoError(t, err)

	patch, err := ParseUpdatePatch(map[string]json.RawMessage{
		"sold_to":       json.RawMessage(`null`),
		"balance_after": json.RawMessage(`null`),
	})
	require.NoError(t, err)

	updated, err := svc.UpdateMovement(ctx, created.ID, patch)
	require.NoError(t, err)
	require.Nil(t, updated.SoldTo)
	require.False(t, updated.BalanceAfter.Valid)
}
