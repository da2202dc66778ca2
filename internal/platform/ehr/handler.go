package ehr

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

// Handler exposes the EHR integration surface over HTTP.
type Handler struct {
	svc *IntegrationService
}

func NewHandler(svc *IntegrationService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/ehr/systems", h.ListSystems)
	api.GET("/ehr/:system/patients/:patient_id/context", h.GetPatientContext)
	api.GET("/ehr/:system/prescriptions/:id/status", h.GetPrescriptionStatus)
}

func (h *Handler) ListSystems(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"systems": h.svc.Registered(),
	})
}

func (h *Handler) GetPatientContext(c echo.Context) error {
	pc, err := h.svc.GetPatientContext(c.Request().Context(), c.Param("system"), c.Param("patient_id"))
	if err != nil {
		return ehrHTTPError(err)
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) GetPrescriptionStatus(c echo.Context) error {
	status, err := h.svc.CheckPrescriptionStatus(c.Request().Context(), c.Param("system"), c.Param("id"))
	if err != nil {
		return ehrHTTPError(err)
	}
	return c.JSON(http.StatusOK, status)
}

func ehrHTTPError(err error) *echo.HTTPError {
	switch rxerr.KindOf(err) {
	case rxerr.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case rxerr.KindAuth:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case rxerr.KindTransport:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
