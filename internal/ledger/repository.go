package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shareregistry/shareledger/internal/shared"
)

// DateAnomaly is a movement flagged by the pre-1900 candidate scan.
type DateAnomaly struct {
	ID           int64
	TransferDate string
}

// BalanceRow is one (shareholder, recorded balance) pair in canonical order.
type BalanceRow struct {
	ShareholderID string
	BalanceAfter  decimal.NullDecimal
}

// RepositoryPort defines data access for the movement ledger.
type RepositoryPort interface {
	ListPage(ctx context.Context, shareholderID string, page, pageSize int) ([]Movement, int, error)
	ListAll(ctx context.Context, shareholderID string) ([]Movement, error)
	Create(ctx context.Context, input CreateMovementInput) (*Movement, error)
	Update(ctx context.Context, id int64, patch UpdatePatch) (*Movement, error)
	ListAnomalousDates(ctx context.Context, before string, limit int) ([]DateAnomaly, error)
	RewriteTransferDate(ctx context.Context, id int64, from, to string) (bool, error)
	ListBalanceRows(ctx context.Context, shareholderIDs []string) ([]BalanceRow, error)
}

// Repository provides PostgreSQL backed persistence for movements.
//
// The canonical read order is (transfer_date ASC NULLS FIRST, id ASC).
// Dates are stored as text so unrecognised historical values survive
// verbatim; canonical YYYY-MM-DD values compare chronologically under
// lexicographic ordering.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const movementColumns = `id, shareholder_id, transfer_date, transfer_number, voided_certificate, purchased_from, sold_to, new_buyer_certificate, new_seller_certificate, issued_certificate_number, observations, purchased_quantity, sold_quantity, balance_after, created_at, updated_at`

func scanMovement(row pgx.Row) (*Movement, error) {
	var m Movement
	err := row.Scan(
		&m.ID, &m.ShareholderID, &m.TransferDate, &m.TransferNumber,
		&m.VoidedCertificate, &m.PurchasedFrom, &m.SoldTo,
		&m.NewBuyerCertificate, &m.NewSellerCertificate,
		&m.IssuedCertificateNumber, &m.Observations,
		&m.PurchasedQuantity, &m.SoldQuantity, &m.BalanceAfter,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListPage returns the exact slice [page*pageSize, page*pageSize+pageSize)
// of the shareholder's canonically ordered ledger plus the total count at
// call time. The count is not serialized with concurrent writers.
func (r *Repository) ListPage(ctx context.Context, shareholderID string, page, pageSize int) ([]Movement, int, error) {
	scope := shared.ScopeFromContext(ctx)

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM movements WHERE shareholder_id = $1 AND ($2 = '' OR company_id = $2)`,
		shareholderID, scope).Scan(&total)
	if err != nil {
		return nil, 0, shared.ClassifyStorageError("ledger: count movements", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+movementColumns+` FROM movements
WHERE shareholder_id = $1 AND ($2 = '' OR company_id = $2)
ORDER BY transfer_date ASC NULLS FIRST, id ASC
LIMIT $3 OFFSET $4`,
		shareholderID, scope, pageSize, page*pageSize)
	if err != nil {
		return nil, 0, shared.ClassifyStorageError("ledger: list movements", err)
	}
	defer rows.Close()

	items, err := collectMovements(rows)
	if err != nil {
		return nil, 0, shared.ClassifyStorageError("ledger: list movements", err)
	}
	return items, total, nil
}

// ListAll returns the shareholder's full ledger in canonical order.
func (r *Repository) ListAll(ctx context.Context, shareholderID string) ([]Movement, error) {
	scope := shared.ScopeFromContext(ctx)
	rows, err := r.pool.Query(ctx,
		`SELECT `+movementColumns+` FROM movements
WHERE shareholder_id = $1 AND ($2 = '' OR company_id = $2)
ORDER BY transfer_date ASC NULLS FIRST, id ASC`,
		shareholderID, scope)
	if err != nil {
		return nil, shared.ClassifyStorageError("ledger: list all movements", err)
	}
	defer rows.Close()

	items, err := collectMovements(rows)
	if err != nil {
		return nil, shared.ClassifyStorageError("ledger: list all movements", err)
	}
	return items, nil
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	var items []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Create inserts a movement and returns the stored record.
func (r *Repository) Create(ctx context.Context, input CreateMovementInput) (*Movement, error) {
	scope := shared.ScopeFromContext(ctx)
	row := r.pool.QueryRow(ctx,
		`INSERT INTO movements (shareholder_id, company_id, transfer_date, transfer_number, voided_certificate, purchased_from, sold_to, new_buyer_certificate, new_seller_certificate, issued_certificate_number, observations, purchased_quantity, sold_quantity, balance_after)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING `+movementColumns,
		input.ShareholderID, scope, input.TransferDate, input.TransferNumber,
		input.VoidedCertificate, input.PurchasedFrom, input.SoldTo,
		input.NewBuyerCertificate, input.NewSellerCertificate,
		input.IssuedCertificateNumber, input.Observations,
		input.PurchasedQuantity, input.SoldQuantity, input.BalanceAfter)
	m, err := scanMovement(row)
	if err != nil {
		return nil, shared.ClassifyStorageError("ledger: create movement", err)
	}
	return m, nil
}

// Update applies an allow-listed partial update. Concurrent updates to the
// same id are last-write-wins; there is no conflict token.
func (r *Repository) Update(ctx context.Context, id int64, patch UpdatePatch) (*Movement, error) {
	if len(patch) == 0 {
		// Nothing survived the allow-list; still verify the row exists so
		// unknown ids fail uniformly.
		row := r.pool.QueryRow(ctx, `SELECT `+movementColumns+` FROM movements WHERE id = $1`, id)
		m, err := scanMovement(row)
		if err != nil {
			return nil, shared.ClassifyStorageError("ledger: get movement", err)
		}
		return m, nil
	}

	assignments := make([]string, 0, len(patch)+1)
	args := make([]any, 0, len(patch)+1)
	args = append(args, id)
	for _, field := range updatableFieldOrder {
		value, ok := patch[field]
		if !ok {
			continue
		}
		args = append(args, value)
		assignments = append(assignments, fmt.Sprintf("%s = $%d", field, len(args)))
	}
	assignments = append(assignments, "updated_at = NOW()")

	row := r.pool.QueryRow(ctx,
		`UPDATE movements SET `+strings.Join(assignments, ", ")+` WHERE id = $1 RETURNING `+movementColumns, args...)
	m, err := scanMovement(row)
	if err != nil {
		return nil, shared.ClassifyStorageError("ledger: update movement", err)
	}
	return m, nil
}

// updatableFieldOrder fixes the SET clause order so statements stay
// deterministic across invocations with the same field set.
var updatableFieldOrder = []string{
	FieldTransferDate,
	FieldTransferNumber,
	FieldVoidedCertificate,
	FieldPurchasedFrom,
	FieldSoldTo,
	FieldNewBuyerCertificate,
	FieldNewSellerCertificate,
	FieldIssuedCertificateNumber,
	FieldObservations,
	FieldPurchasedQuantity,
	FieldSoldQuantity,
	FieldBalanceAfter,
}

// ListAnomalousDates returns up to limit movements with a canonical
// transfer date before the given cutoff, oldest ids first. Non-canonical
// pass-through values are excluded: they sort as plain text, not
// chronologically.
func (r *Repository) ListAnomalousDates(ctx context.Context, before string, limit int) ([]DateAnomaly, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, transfer_date FROM movements WHERE transfer_date ~ '^\d{4}-\d{2}-\d{2}$' AND transfer_date < $1 ORDER BY id ASC LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, shared.ClassifyStorageError("ledger: scan anomalous dates", err)
	}
	defer rows.Close()

	var anomalies []DateAnomaly
	for rows.Next() {
		var a DateAnomaly
		if err := rows.Scan(&a.ID, &a.TransferDate); err != nil {
			return nil, shared.ClassifyStorageError("ledger: scan anomalous dates", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.ClassifyStorageError("ledger: scan anomalous dates", err)
	}
	return anomalies, nil
}

// RewriteTransferDate replaces the stored date only if it still holds the
// expected value, making concurrent sweeps and repeat passes no-ops.
func (r *Repository) RewriteTransferDate(ctx context.Context, id int64, from, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE movements SET transfer_date = $2, updated_at = NOW() WHERE id = $1 AND transfer_date = $3`,
		id, to, from)
	if err != nil {
		return false, shared.ClassifyStorageError("ledger: rewrite transfer date", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListBalanceRows streams (shareholder, balance) pairs for the requested
// shareholders in canonical order.
func (r *Repository) ListBalanceRows(ctx context.Context, shareholderIDs []string) ([]BalanceRow, error) {
	scope := shared.ScopeFromContext(ctx)
	rows, err := r.pool.Query(ctx,
		`SELECT shareholder_id, balance_after FROM movements
WHERE shareholder_id = ANY($1) AND ($2 = '' OR company_id = $2)
ORDER BY transfer_date ASC NULLS FIRST, id ASC`,
		shareholderIDs, scope)
	if err != nil {
		return nil, shared.ClassifyStorageError("ledger: list balance rows", err)
	}
	defer rows.Close()

	var out []BalanceRow
	for rows.Next() {
		var row BalanceRow
		if err := rows.Scan(&row.ShareholderID, &row.BalanceAfter); err != nil {
			return nil, shared.ClassifyStorageError("ledger: list balance rows", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.ClassifyStorageError("ledger: list balance rows", err)
	}
	return out, nil
}
