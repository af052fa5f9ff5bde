package engine

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/rpm/internal/platform/auth"
)

type patientEvaluator interface {
	EvaluateForPatient(ctx context.Context, patientID uuid.UUID) (*PatientReport, error)
}

// Handler exposes the one-off evaluation entry point, typically called right
// after new measurements are ingested.
type Handler struct {
	engine patientEvaluator
}

func NewHandler(engine patientEvaluator) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "system"))
	g.POST("/patients/:id/evaluate", h.EvaluatePatient)
}

func (h *Handler) EvaluatePatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	report, err := h.engine.EvaluateForPatient(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
