package dispense

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/domain/prescription"
)

func renderRequest(t *testing.T, repo *prescription.MemoryRepo, txID, format string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	target := "/?pharmacy_id=PHARM-1"
	if format != "" {
		target += "&format=" + format
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("tx_id")
	c.SetParamValues(txID)

	h := NewHandler(NewService(repo, zerolog.Nop()))
	if err := h.GetPrescription(c); err != nil {
		t.Fatalf("get prescription: %v", err)
	}
	return rec
}

func TestGetPrescriptionRendersFHIR(t *testing.T) {
	repo := prescription.NewMemoryRepo()
	seedPrescription(t, repo, "RX-20260820-FFFF0001")

	rec := renderRequest(t, repo, "RX-20260820-FFFF0001", "fhir")
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/fhir+json" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"resourceType":"Bundle"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetPrescriptionFHIRErrorIsOperationOutcome(t *testing.T) {
	repo := prescription.NewMemoryRepo()

	rec := renderRequest(t, repo, "RX-00000000-MISSING0", "fhir")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/fhir+json" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"resourceType":"OperationOutcome"`) || !strings.Contains(body, `"not-found"`) {
		t.Errorf("body = %s", body)
	}
}

func TestGetPrescriptionRendersHL7(t *testing.T) {
	repo := prescription.NewMemoryRepo()
	seedPrescription(t, repo, "RX-20260820-FFFF0002")

	rec := renderRequest(t, repo, "RX-20260820-FFFF0002", "hl7v2")
	body := rec.Body.String()
	if !strings.HasPrefix(body, "MSH|") || !strings.Contains(body, "RXE|") {
		t.Errorf("body = %q", body)
	}
}

func TestGetPrescriptionDefaultJSON(t *testing.T) {
	repo := prescription.NewMemoryRepo()
	seedPrescription(t, repo, "RX-20260820-FFFF0003")

	rec := renderRequest(t, repo, "RX-20260820-FFFF0003", "")
	if !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
