package ledger

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shareregistry/shareledger/internal/platform/httpx"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

var exportHeader = []string{
	"id", "transfer_date", "transfer_number", "voided_certificate",
	"purchased_from", "sold_to", "purchased_quantity", "sold_quantity",
	"new_buyer_certificate", "new_seller_certificate",
	"issued_certificate_number", "balance_after", "observations",
}

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeRow(row []string) error {
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.flush()
	}
	return nil
}

func (s *csvStreamer) flush() error {
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

// exportMovements streams the shareholder's full ledger as CSV in canonical
// order. Rendering and localisation stay with the caller; values are
// emitted exactly as stored.
func (h *Handler) exportMovements(w http.ResponseWriter, r *http.Request) {
	shareholderID := chi.URLParam(r, "shareholderID")

	movements, err := h.service.Export(r.Context(), shareholderID)
	if err != nil {
		h.logErr(r, "export movements", err)
		httpx.RespondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "movements_"+shareholderID+".csv"))

	streamer := newCSVStreamer(w)
	if err := streamer.writeRow(exportHeader); err != nil {
		h.logErr(r, "export movements", err)
		return
	}
	for _, m := range movements {
		row := []string{
			formatMovementID(m.ID),
			textOrEmpty(m.TransferDate),
			textOrEmpty(m.TransferNumber),
			textOrEmpty(m.VoidedCertificate),
			textOrEmpty(m.PurchasedFrom),
			textOrEmpty(m.SoldTo),
			quantityOrEmpty(m.PurchasedQuantity),
			quantityOrEmpty(m.SoldQuantity),
			textOrEmpty(m.NewBuyerCertificate),
			textOrEmpty(m.NewSellerCertificate),
			textOrEmpty(m.IssuedCertificateNumber),
			quantityOrEmpty(m.BalanceAfter),
			textOrEmpty(m.Observations),
		}
		if err := streamer.writeRow(row); err != nil {
			h.logErr(r, "export movements", err)
			return
		}
	}
	if err := streamer.flush(); err != nil {
		h.logErr(r, "export movements", err)
	}
}

func textOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func quantityOrEmpty(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.String()
}
