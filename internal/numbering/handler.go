package numbering

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/detailops/detailops/internal/platform/httpx"
	"github.com/detailops/detailops/internal/shared"
)

// Handler manages numbering series configuration.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers numbering routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Put("/series/{series}", h.configureSeries)
}

type configureSeriesRequest struct {
	Prefix      string `json:"prefix"`
	Start       int64  `json:"start" validate:"gte=0"`
	Width       int    `json:"width" validate:"gte=0,lte=12"`
	IncludeYear bool   `json:"include_year"`
	YearlyReset bool   `json:"yearly_reset"`
}

func (h *Handler) configureSeries(w http.ResponseWriter, r *http.Request) {
	identity, err := shared.IdentityFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing owner identity")
		return
	}
	series := chi.URLParam(r, "series")
	var req configureSeriesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cfg := SeriesConfig{
		OwnerID:     identity.OwnerID,
		Series:      series,
		Prefix:      req.Prefix,
		Start:       req.Start,
		Width:       req.Width,
		IncludeYear: req.IncludeYear,
		YearlyReset: req.YearlyReset,
	}
	if err := h.service.Configure(r.Context(), cfg); err != nil {
		h.logger.Error("configure series", slog.Any("error", err), slog.String("series", series))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}
