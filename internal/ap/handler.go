package ap

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

// Handler manages payable endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers AP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills", h.listBills)
	r.Post("/bills", h.createBill)
	r.Get("/bills/{id}", h.getBill)
	r.Get("/bills/{id}/payments", h.listPayments)
	r.Post("/bills/{id}/payments", h.recordPayment)
	r.Get("/aging", h.aging)
}

type createBillRequest struct {
	VendorID       int64   `json:"vendor_id" validate:"required"`
	BillNumber     string  `json:"bill_number" validate:"required"`
	BillDate       string  `json:"bill_date" validate:"required"`
	DueDate        string  `json:"due_date"`
	OriginalAmount float64 `json:"original_amount" validate:"required,gt=0"`
	AttachmentURL  string  `json:"attachment_url"`
	Notes          string  `json:"notes"`
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	var req createBillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	billDate, err := time.Parse("2006-01-02", req.BillDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "bill_date must be YYYY-MM-DD")
		return
	}
	input := CreateBillInput{
		OwnerID:        identity.OwnerID,
		VendorID:       req.VendorID,
		BillNumber:     req.BillNumber,
		BillDate:       billDate,
		OriginalAmount: req.OriginalAmount,
		AttachmentURL:  req.AttachmentURL,
		Notes:          req.Notes,
	}
	if req.DueDate != "" {
		dueDate, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "due_date must be YYYY-MM-DD")
			return
		}
		input.DueDate = dueDate
	}

	bill, err := h.service.CreateFromBill(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, "create bill", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, bill)
}

func (h *Handler) getBill(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid bill id")
		return
	}
	bill, err := h.service.GetEntry(r.Context(), identity.OwnerID, id)
	if err != nil {
		h.respondDomainError(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) listBills(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{OverdueOnly: q.Get("overdue") == "true"}
	filter.VendorID, _ = strconv.ParseInt(q.Get("vendor_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	bills, err := h.service.ListEntries(r.Context(), identity.OwnerID, filter)
	if err != nil {
		h.logger.Error("list AP bills", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"bills": bills})
}

type recordPaymentRequest struct {
	Amount          float64 `json:"amount" validate:"required,gt=0"`
	Date            string  `json:"date"`
	Method          string  `json:"method"`
	ReferenceNumber string  `json:"reference_number"`
	Notes           string  `json:"notes"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid bill id")
		return
	}
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := RecordPaymentInput{
		OwnerID:         identity.OwnerID,
		EntryID:         id,
		Amount:          req.Amount,
		Method:          req.Method,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "date must be YYYY-MM-DD")
			return
		}
		input.Date = date
	}
	payment, err := h.service.RecordPayment(r.Context(), input)
	if err != nil {
		h.respondDomainError(w, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid bill id")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), identity.OwnerID, id)
	if err != nil {
		h.respondDomainError(w, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	summary, err := h.service.ComputeAging(r.Context(), identity.OwnerID)
	if err != nil {
		h.logger.Error("AP aging", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondDomainError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, shared.ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOverpayment), errors.Is(err, ErrEntryClosed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(action, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
