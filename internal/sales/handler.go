package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/detailops/detailops/internal/platform/httpx"
	"github.com/detailops/detailops/internal/shared"
)

// Handler manages sale lifecycle endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listSales)
	r.Post("/", h.saveDraft)
	r.Get("/{id}", h.getSale)
	r.Post("/{id}/items", h.addLineItem)
	r.Delete("/{id}/items/{itemID}", h.removeLineItem)
	r.Patch("/{id}/items/{itemID}", h.updateQuantity)
	r.Post("/{id}/complete", h.completeSale)
	r.Post("/{id}/cancel", h.cancelSale)
}

type itemRequest struct {
	Kind           string  `json:"kind" validate:"required,oneof=PRODUCT SERVICE"`
	ProductID      *int64  `json:"product_id"`
	ServiceID      *int64  `json:"service_id"`
	Description    string  `json:"description"`
	Quantity       float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice      float64 `json:"unit_price" validate:"gte=0"`
	DiscountAmount float64 `json:"discount_amount" validate:"gte=0"`
	UnitCost       float64 `json:"unit_cost" validate:"gte=0"`
}

type saveDraftRequest struct {
	CustomerID     int64         `json:"customer_id" validate:"required"`
	Date           string        `json:"date"`
	TaxRate        float64       `json:"tax_rate" validate:"gte=0"`
	DiscountAmount float64       `json:"discount_amount" validate:"gte=0"`
	PaymentDueDate string        `json:"payment_due_date"`
	Items          []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r itemRequest) toInput() ItemInput {
	return ItemInput{
		Kind:           ItemKind(r.Kind),
		ProductID:      r.ProductID,
		ServiceID:      r.ServiceID,
		Description:    r.Description,
		Quantity:       r.Quantity,
		UnitPrice:      r.UnitPrice,
		DiscountAmount: r.DiscountAmount,
		UnitCost:       r.UnitCost,
	}
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	var req saveDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := SaveDraftInput{
		OwnerID:        identity.OwnerID,
		CustomerID:     req.CustomerID,
		TaxRate:        req.TaxRate,
		DiscountAmount: req.DiscountAmount,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
			return
		}
		input.Date = date
	}
	if req.PaymentDueDate != "" {
		due, err := time.Parse("2006-01-02", req.PaymentDueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "payment_due_date must be YYYY-MM-DD")
			return
		}
		input.PaymentDueDate = &due
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, item.toInput())
	}

	sale, err := h.service.SaveDraft(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, "save draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.service.GetSale(r.Context(), identity.OwnerID, id)
	if err != nil {
		h.respondDomainError(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	q := r.URL.Query()
	var status *SaleStatus
	if s := q.Get("status"); s != "" {
		st := SaleStatus(s)
		status = &st
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	salesList, err := h.service.ListSales(r.Context(), identity.OwnerID, status, limit, offset)
	if err != nil {
		h.logger.Error("list sales", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": salesList})
}

func (h *Handler) addLineItem(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	saleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sale, err := h.service.AddLineItem(r.Context(), identity.OwnerID, saleID, req.toInput())
	if err != nil {
		h.respondDomainError(w, "add line item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) removeLineItem(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	saleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	sale, err := h.service.RemoveLineItem(r.Context(), identity.OwnerID, saleID, itemID)
	if err != nil {
		h.respondDomainError(w, "remove line item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

type updateQuantityRequest struct {
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	saleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	itemID, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	var req updateQuantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sale, err := h.service.UpdateQuantity(r.Context(), identity.OwnerID, saleID, itemID, req.Quantity)
	if err != nil {
		h.respondDomainError(w, "update quantity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) completeSale(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, warnings, err := h.service.CompleteSale(r.Context(), identity.OwnerID, id)
	if err != nil {
		h.respondDomainError(w, "complete sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sale": sale, "warnings": warnings})
}

func (h *Handler) cancelSale(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return
	}
	sale, err := h.service.CancelSale(r.Context(), identity.OwnerID, id)
	if err != nil {
		h.respondDomainError(w, "cancel sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) respondDomainError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoItems), errors.Is(err, ErrInvalidQuantity), errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotDraft), errors.Is(err, ErrInsufficientStock),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
