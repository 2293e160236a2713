package dispensing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/pharmacy/internal/platform/auth"
	"github.com/ehr/pharmacy/internal/platform/fhir"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/medication-requests", auth.RequireRole(auth.DispenseRoles...))
	g.POST("/:id/dispense", h.Dispense)
	// Older clients put the id last.
	g.POST("/dispense/:id", h.Dispense)
}

type dispenseResponse struct {
	Message string `json:"message"`
	*Result
}

func (h *Handler) Dispense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.InvalidOutcome("invalid medication request id"))
	}
	res, err := h.svc.Dispense(c.Request().Context(), id)
	if err != nil {
		status, outcome := errorStatus(err)
		if errors.Is(err, ErrConcurrentStockRace) {
			c.Response().Header().Set("Retry-After", "1")
		}
		return c.JSON(status, outcome)
	}
	return c.JSON(http.StatusOK, dispenseResponse{Message: "Medication dispensed successfully", Result: res})
}

func errorStatus(err error) (int, *fhir.OperationOutcome) {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		return http.StatusNotFound, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeNotFound, err.Error())
	case errors.Is(err, ErrUnlinkedMedication):
		return http.StatusUnprocessableEntity, fhir.BusinessRuleOutcome(err.Error())
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict, fhir.BusinessRuleOutcome(err.Error())
	case errors.Is(err, ErrAlreadyDispensed), errors.Is(err, ErrConcurrentStockRace):
		return http.StatusConflict, fhir.ConflictOutcome(err.Error())
	default:
		return http.StatusInternalServerError, fhir.InternalErrorOutcome(err.Error())
	}
}
