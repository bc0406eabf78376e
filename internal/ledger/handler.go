package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/shareregistry/shareledger/internal/platform/httpx"
	"github.com/shareregistry/shareledger/internal/shared"
)

// ScopeHeader carries the caller's opaque company scope. The core forwards
// it into store queries without interpreting it.
const ScopeHeader = "X-Company-Scope"

// Handler exposes the ledger operations over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(scopeMiddleware)
	r.Get("/shareholders/{shareholderID}/movements", h.listMovements)
	r.Get("/shareholders/{shareholderID}/movements/export", h.exportMovements)
	r.Post("/movements", h.createMovement)
	r.Patch("/movements/{id}", h.updateMovement)
	r.Post("/balances", h.batchBalances)
}

func scopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope := r.Header.Get(ScopeHeader); scope != "" {
			r = r.WithContext(shared.ContextWithScope(r.Context(), scope))
		}
		next.ServeHTTP(w, r)
	})
}

type movementPageResponse struct {
	Items      []Movement `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	shareholderID := chi.URLParam(r, "shareholderID")

	page, err := queryInt(r, "page", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", shared.DefaultPageSize)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.GetPage(r.Context(), shareholderID, page, pageSize)
	if err != nil {
		h.logErr(r, "list movements", err)
		httpx.RespondError(w, err)
		return
	}

	items := result.Items
	if items == nil {
		items = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, movementPageResponse{
		Items:      items,
		Total:      result.Pagination.Total,
		Page:       result.Pagination.Page,
		PageSize:   result.Pagination.PageSize,
		TotalPages: result.Pagination.TotalPages,
	})
}

type createMovementRequest struct {
	ShareholderID           string              `json:"shareholder_id" validate:"required"`
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
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	var req createMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalidf("malformed payload: %v", err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalidf("%v", err))
		return
	}

	movement, err := h.service.CreateMovement(r.Context(), CreateMovementInput{
		ShareholderID:           req.ShareholderID,
		TransferDate:            req.TransferDate,
		TransferNumber:          req.TransferNumber,
		VoidedCertificate:       req.VoidedCertificate,
		PurchasedFrom:           req.PurchasedFrom,
		SoldTo:                  req.SoldTo,
		NewBuyerCertificate:     req.NewBuyerCertificate,
		NewSellerCertificate:    req.NewSellerCertificate,
		IssuedCertificateNumber: req.IssuedCertificateNumber,
		Observations:            req.Observations,
		PurchasedQuantity:       req.PurchasedQuantity,
		SoldQuantity:            req.SoldQuantity,
		BalanceAfter:            req.BalanceAfter,
	})
	if err != nil {
		h.logErr(r, "create movement", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) updateMovement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Invalidf("movement id must be numeric"))
		return
	}

	var raw map[string]json.RawMessage
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		httpx.RespondError(w, shared.Invalidf("malformed payload: %v", err))
		return
	}
	patch, err := ParseUpdatePatch(raw)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	movement, err := h.service.UpdateMovement(r.Context(), id, patch)
	if err != nil {
		h.logErr(r, "update movement", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

type batchBalancesRequest struct {
	ShareholderIDs []string `json:"shareholder_ids" validate:"required,min=1"`
}

type batchBalancesResponse struct {
	Balances map[string]decimal.Decimal `json:"balances"`
}

func (h *Handler) batchBalances(w http.ResponseWriter, r *http.Request) {
	var req batchBalancesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalidf("malformed payload: %v", err))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, shared.Invalidf("shareholder id set must not be empty"))
		return
	}

	balances, err := h.service.Balances(r.Context(), req.ShareholderIDs)
	if err != nil {
		h.logErr(r, "batch balances", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchBalancesResponse{Balances: balances})
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Invalidf("%s must be an integer", name)
	}
	return value, nil
}

func (h *Handler) logErr(r *http.Request, op string, err error) {
	h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
}
