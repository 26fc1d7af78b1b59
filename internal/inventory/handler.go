package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/detailops/detailops/internal/platform/httpx"
	"github.com/detailops/detailops/internal/shared"
)

// Handler manages stock and reservation endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reservations", h.reserve)
	r.Post("/reservations/{id}/commit", h.commit)
	r.Post("/reservations/{id}/release", h.release)
	r.Get("/products/{id}/availability", h.availability)
	r.Get("/products/{id}/trail", h.stockTrail)
	r.Post("/products/{id}/adjust", h.adjust)
	r.Post("/products/{id}/receive", h.receive)
	r.Get("/low-stock", h.lowStock)
}

type reserveRequest struct {
	SaleID     int64   `json:"sale_id" validate:"required"`
	SaleItemID int64   `json:"sale_item_id"`
	ProductID  int64   `json:"product_id" validate:"required"`
	Quantity   float64 `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	res, err := h.service.Reserve(r.Context(), ReserveInput{
		OwnerID:    identity.OwnerID,
		SaleID:     req.SaleID,
		SaleItemID: req.SaleItemID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.respondDomainError(w, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "commit", h.service.Commit)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "release", h.service.Release)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, ownerID, reservationID int64) error) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid reservation id")
		return
	}
	if err := fn(r.Context(), identity.OwnerID, id); err != nil {
		h.respondDomainError(w, action, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "action": action})
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	needed, _ := strconv.ParseFloat(r.URL.Query().Get("needed"), 64)
	availability, err := h.service.CheckAvailability(r.Context(), identity.OwnerID, productID, needed)
	if err != nil {
		h.respondDomainError(w, "availability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, availability)
}

type quantityRequest struct {
	Quantity float64 `json:"quantity" validate:"required"`
	Notes    string  `json:"notes"`
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req quantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	txn, err := h.service.Adjust(r.Context(), identity.OwnerID, productID, req.Quantity, req.Notes)
	if err != nil {
		h.respondDomainError(w, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req quantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	txn, err := h.service.Receive(r.Context(), identity.OwnerID, productID, req.Quantity, req.Notes)
	if err != nil {
		h.respondDomainError(w, "receive", err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) stockTrail(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trail, err := h.service.GetStockTrail(r.Context(), identity.OwnerID, productID, limit)
	if err != nil {
		h.respondDomainError(w, "stock trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": trail})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	products, err := h.service.ListLowStock(r.Context(), identity.OwnerID)
	if err != nil {
		h.logger.Error("low stock", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *Handler) respondDomainError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrReservationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNegativeStock), errors.Is(err, ErrInactiveProduct):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
