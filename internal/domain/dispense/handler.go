package dispense

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/internal/platform/hl7v2"
	"github.com/healthflow/healthflow/internal/platform/ncpdp"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/prescriptions/:tx_id", h.GetPrescription)
	api.GET("/prescriptions", h.SearchPrescriptions)
	api.POST("/dispensations", h.RecordDispensation)
	api.GET("/prescriptions/:tx_id/dispensation", h.GetDispensation)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	pharmacyID := c.QueryParam("pharmacy_id")
	if pharmacyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pharmacy_id is required")
	}

	format := rxmodel.SourceFormat(strings.ToUpper(c.QueryParam("format")))
	p, err := h.svc.GetPrescriptionForDispensing(c.Request().Context(), c.Param("tx_id"), pharmacyID)
	if err != nil {
		if format == rxmodel.FormatFHIR {
			return fhirError(c, err)
		}
		return httpError(err)
	}

	// The pharmacy picks the wire format it can ingest; the stored
	// prescription is re-rendered through the matching codec.
	switch format {
	case rxmodel.FormatFHIR:
		raw, encErr := fhir.Encode(p.ToCanonical())
		if encErr != nil {
			return fhirError(c, encErr)
		}
		return c.Blob(http.StatusOK, "application/fhir+json", raw)
	case rxmodel.FormatHL7V2:
		raw, encErr := hl7v2.NewBuilder().BuildRDEO11(p.ToCanonical())
		if encErr != nil {
			return httpError(encErr)
		}
		return c.Blob(http.StatusOK, "text/plain", raw)
	case rxmodel.FormatNCPDP:
		raw, encErr := ncpdp.NewCodec(nil).Encode(p.ToCanonical())
		if encErr != nil {
			return httpError(encErr)
		}
		return c.Blob(http.StatusOK, "application/xml", raw)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"prescription": p,
		"timestamp":    time.Now().UTC(),
	})
}

func (h *Handler) SearchPrescriptions(c echo.Context) error {
	patientID := c.QueryParam("patient_id")
	pharmacyID := c.QueryParam("pharmacy_id")
	if patientID == "" || pharmacyID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and pharmacy_id are required")
	}
	status := rxmodel.PrescriptionStatus(c.QueryParam("status"))
	if status == "" {
		status = rxmodel.StatusActive
	}

	out, err := h.svc.SearchByPatient(c.Request().Context(), patientID, pharmacyID, status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":       true,
		"count":         len(out),
		"prescriptions": out,
		"timestamp":     time.Now().UTC(),
	})
}

func (h *Handler) RecordDispensation(c echo.Context) error {
	var req DispenseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	d, err := h.svc.RecordDispensation(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":            true,
		"dispense_id":        d.ID,
		"prescription_tx_id": d.PrescriptionTxID,
		"message":            "Dispensation recorded successfully",
		"timestamp":          d.CreatedAt,
	})
}

func (h *Handler) GetDispensation(c echo.Context) error {
	d, err := h.svc.GetDispensation(c.Request().Context(), c.Param("tx_id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"dispensation": d,
		"timestamp":    time.Now().UTC(),
	})
}

func httpError(err error) *echo.HTTPError {
	switch rxerr.KindOf(err) {
	case rxerr.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case rxerr.KindValidation, rxerr.KindFormat:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// fhirError renders a failure as an OperationOutcome so callers that asked
// for FHIR never receive a non-FHIR error body.
func fhirError(c echo.Context, err error) error {
	outcome := fhir.ErrorOutcome(err.Error())
	if rxerr.IsNotFound(err) {
		outcome = fhir.NewOperationOutcome("error", "not-found", err.Error())
	}
	raw, mErr := json.Marshal(outcome)
	if mErr != nil {
		return httpError(err)
	}
	return c.Blob(httpError(err).Code, "application/fhir+json", raw)
}
