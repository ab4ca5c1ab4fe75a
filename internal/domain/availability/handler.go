package availability

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wellnest/wellnest/internal/platform/auth"
	"github.com/wellnest/wellnest/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/services/:id/availability", h.GetAvailability)

	// Called by the booking write path after a booking changes.
	api.POST("/practitioners/:id/availability/invalidate", h.Invalidate,
		auth.RequireSelfOrRole("id", "booking-service"))
}

func (h *Handler) GetAvailability(c echo.Context) error {
	serviceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	q := Query{ServiceID: serviceID}
	if v := c.QueryParam("start_date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid start_date: "+err.Error())
		}
		q.StartDate = &d
	}
	if v := c.QueryParam("end_date"); v != "" {
		d, err := ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid end_date: "+err.Error())
		}
		q.EndDate = &d
	}
	if v := c.QueryParam("days_ahead"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days_ahead must be a positive integer")
		}
		q.DaysAhead = n
	}

	slots, err := h.svc.GetAvailability(c.Request().Context(), q)
	if err != nil {
		return h.mapError(err)
	}

	pg := pagination.FromContext(c)
	lo, hi := pg.Window(len(slots))
	return c.JSON(http.StatusOK, pagination.NewResponse(slots[lo:hi], len(slots), pg))
}

func (h *Handler) Invalidate(c echo.Context) error {
	practitionerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	n, err := h.svc.InvalidatePractitioner(c.Request().Context(), practitionerID)
	if err != nil {
		h.logger.Error().Err(err).Str("practitioner_id", practitionerID.String()).Msg("availability invalidation failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "cache invalidation failed")
	}
	h.logger.Debug().Str("practitioner_id", practitionerID.String()).Int("keys", n).Msg("availability invalidated")
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) mapError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "service not found")
	case errors.Is(err, ErrNoPractitionerAssociated):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "availability could not be computed")
	}
}
