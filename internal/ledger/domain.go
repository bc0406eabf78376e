package ledger

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shareregistry/shareledger/internal/shared"
)

// Movement is one equity-transfer ledger entry for a shareholder.
//
// BalanceAfter is the running balance recorded by the writer immediately
// after this movement. The core never recomputes it from the quantity
// columns; it is a cache of externally computed figures.
type Movement struct {
	ID                      int64               `json:"id"`
	ShareholderID           string              `json:"shareholder_id"`
	TransferDate            *string             `json:"transfer_date"`
	TransferNumber          *string             `json:"transfer_number"`
	VoidedCertificate       *string             `json:"voided_certificate"`
	PurchasedFrom           *string             `json:"purchased_from"`
	SoldTo                  *string             `json:"sold_to"`
	NewBuyerCertificate     *string             `json:"new_buyer_certificate"`
	NewSellerCertificate    *string             `json:"new_seller_certificate"`
	IssuedCertificateNumber *string             `json:"issued_certificate_number"`
	Observations            *string             `json:"observations"`
	PurchasedQuantity       decimal.NullDecimal `json:"purchased_quantity"`
	SoldQuantity            decimal.NullDecimal `json:"sold_quantity"`
	BalanceAfter            decimal.NullDecimal `json:"balance_after"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// CreateMovementInput carries the fields accepted at creation.
type CreateMovementInput struct {
	ShareholderID           string
	TransferDate            *string
	TransferNumber          *string
	VoidedCertificate       *string
	PurchasedFrom           *string
	SoldTo                  *string
	NewBuyerCertificate     *string
	NewSellerCertificate    *string
	IssuedCertificateNumber *string
	Observations            *string
	PurchasedQuantity       decimal.NullDecimal
	SoldQuantity            decimal.NullDecimal
	BalanceAfter            decimal.NullDecimal
}

// MovementPage is one ordered slice of a shareholder's ledger plus the total
// count at call time. The total is a point-in-time snapshot and may be stale
// relative to concurrent writers.
type MovementPage struct {
	Items      []Movement
	Pagination shared.Pagination
}

// Field names accepted by partial updates. Anything else in an update
// payload is silently dropped, not rejected.
const (
	FieldTransferDate            = "transfer_date"
	FieldTransferNumber          = "transfer_number"
	FieldVoidedCertificate       = "voided_certificate"
	FieldPurchasedFrom           = "purchased_from"
	FieldSoldTo                  = "sold_to"
	FieldNewBuyerCertificate     = "new_buyer_certificate"
	FieldNewSellerCertificate    = "new_seller_certificate"
	FieldIssuedCertificateNumber = "issued_certificate_number"
	FieldObservations            = "observations"
	FieldPurchasedQuantity       = "purchased_quantity"
	FieldSoldQuantity            = "sold_quantity"
	FieldBalanceAfter            = "balance_after"
)

var textFields = map[string]bool{
	FieldTransferNumber:          true,
	FieldVoidedCertificate:       true,
	FieldPurchasedFrom:           true,
	FieldSoldTo:                  true,
	FieldNewBuyerCertificate:     true,
	FieldNewSellerCertificate:    true,
	FieldIssuedCertificateNumber: true,
	FieldObservations:            true,
}

var numericFields = map[string]bool{
	FieldPurchasedQuantity: true,
	FieldSoldQuantity:      true,
	FieldBalanceAfter:      true,
}

// UpdatePatch holds the allow-listed fields of a partial update, keyed by
// canonical field name. Text values are *string (nil clears the column),
// numeric values are decimal.NullDecimal.
type UpdatePatch map[string]any

// ParseUpdatePatch filters a raw JSON payload down to the allow-list,
// normalizes the transfer date and parses numeric values. Unknown keys are
// ignored. Non-numeric input for a numeric field is an invalid argument.
func ParseUpdatePatch(raw map[string]json.RawMessage) (UpdatePatch, error) {
	patch := make(UpdatePatch)
	for key, value := range raw {
		switch {
		case key == FieldTransferDate:
			var text *string
			if err := json.Unmarshal(value, &text); err != nil {
				return nil, shared.Invalidf("field %s must be a string", key)
			}
			patch[key] = NormalizeTransferDate(text)
		case textFields[key]:
			var text *string
			if err := json.Unmarshal(value, &text); err != nil {
				return nil, shared.Invalidf("field %s must be a string", key)
			}
			patch[key] = text
		case numericFields[key]:
			qty, err := parseQuantity(value)
			if err != nil {
				return nil, shared.Invalidf("field %s must be numeric", key)
			}
			patch[key] = qty
		}
	}
	return patch, nil
}

// parseQuantity accepts a JSON number, a numeric string, or null.
func parseQuantity(raw json.RawMessage) (decimal.NullDecimal, error) {
	var qty decimal.NullDecimal
	if len(raw) == 0 {
		return qty, nil
	}
	if err := qty.UnmarshalJSON(raw); err != nil {
		return decimal.NullDecimal{}, err
	}
	return qty, nil
}
