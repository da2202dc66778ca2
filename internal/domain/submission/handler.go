package submission

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

type Handler struct {
	gw *Gateway
}

func NewHandler(gw *Gateway) *Handler {
	return &Handler{gw: gw}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/prescriptions/submit", h.SubmitPrescription)
	api.GET("/submissions/:id", h.GetSubmission)
}

type submitRequest struct {
	Format        string          `json:"format"`
	SubmitterID   string          `json:"submitter_id"`
	SubmitterType string          `json:"submitter_type"`
	Prescription  json.RawMessage `json:"prescription_data"`
}

func (h *Handler) SubmitPrescription(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SubmitterID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "submitter_id is required")
	}

	resp := h.gw.Submit(c.Request().Context(), payloadBytes(req.Prescription),
		rxmodel.SourceFormat(req.Format), req.SubmitterID, req.SubmitterType)

	switch resp.Status {
	case StatusRejected:
		return c.JSON(http.StatusUnprocessableEntity, resp)
	case StatusError:
		return c.JSON(http.StatusInternalServerError, resp)
	default:
		return c.JSON(http.StatusCreated, resp)
	}
}

func (h *Handler) GetSubmission(c echo.Context) error {
	rec, err := h.gw.GetSubmission(c.Param("id"))
	if err != nil {
		if rxerr.IsNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "submission not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// payloadBytes unwraps non-JSON payloads that arrive as a JSON string (HL7,
// XML); JSON payloads pass through untouched.
func payloadBytes(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}
