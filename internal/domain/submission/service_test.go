package submission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/domain/prescription"
	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

var txIDPattern = regexp.MustCompile(`^RX-\d{8}-[A-F0-9]{8}$`)

const validJSON = `{
	"doctor_id": "DOC-1",
	"doctor_name": "Jane Smith",
	"patient_id": "PAT-1",
	"patient_name": "John Doe",
	"diagnosis": "Hypertension",
	"prescription_date": "2026-08-20",
	"medications": [
		{"medicine_code": "314076", "medicine_name": "Lisinopril 10mg", "dosage": "10mg", "quantity": 30, "refills": 3}
	]
}`

type recordingForwarder struct {
	forwarded []*rxmodel.CanonicalPrescription
	err       error
}

func (f *recordingForwarder) Forward(ctx context.Context, p *rxmodel.CanonicalPrescription) error {
	if f.err != nil {
		return f.err
	}
	f.forwarded = append(f.forwarded, p)
	return nil
}

func newTestGateway(fw Forwarder) (*Gateway, *prescription.MemoryRepo) {
	repo := prescription.NewMemoryRepo()
	return NewGateway(repo, fw, zerolog.Nop()), repo
}

func TestSubmitJSONTransmitted(t *testing.T) {
	gw, repo := newTestGateway(nil)

	resp := gw.Submit(context.Background(), []byte(validJSON), rxmodel.FormatJSON, "DOC-1", "doctor")
	if resp.Status != StatusTransmitted {
		t.Fatalf("status = %q, errors = %v", resp.Status, resp.Errors)
	}
	if !txIDPattern.MatchString(resp.PrescriptionTxID) {
		t.Errorf("tx ID = %q", resp.PrescriptionTxID)
	}
	if resp.SubmissionID == "" {
		t.Error("submission ID missing")
	}

	stored, err := repo.GetByTxID(context.Background(), resp.PrescriptionTxID)
	if err != nil {
		t.Fatalf("stored prescription: %v", err)
	}
	if stored.DoctorID != "DOC-1" || stored.PatientName != "John Doe" || stored.Status != rxmodel.StatusActive {
		t.Errorf("stored = %+v", stored)
	}
	if stored.OriginalFormat != rxmodel.FormatJSON || stored.SubmissionID != resp.SubmissionID {
		t.Errorf("provenance = %q/%q", stored.OriginalFormat, stored.SubmissionID)
	}

	logs, _ := repo.ListAuditLogs(context.Background(), resp.PrescriptionTxID, 10)
	if len(logs) != 1 || logs[0].Action != "create" {
		t.Errorf("audit logs = %+v", logs)
	}
}

func TestSubmitRejectsMissingMedications(t *testing.T) {
	gw, repo := newTestGateway(nil)

	payload := `{"doctor_id": "DOC-1", "patient_id": "PAT-1", "medications": []}`
	resp := gw.Submit(context.Background(), []byte(payload), rxmodel.FormatJSON, "DOC-1", "doctor")

	if resp.Status != StatusRejected {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.PrescriptionTxID != "" {
		t.Errorf("rejected submission got tx ID %q", resp.PrescriptionTxID)
	}
	var found bool
	for _, fe := range resp.Errors {
		if fe.Field == "medications" {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want medications field error", resp.Errors)
	}

	if got, _, _ := repo.Search(context.Background(), prescription.SearchFilter{}); len(got) != 0 {
		t.Errorf("rejected submission was stored: %d records", len(got))
	}
}

func TestSubmitRejectsMalformedPayload(t *testing.T) {
	gw, _ := newTestGateway(nil)
	resp := gw.Submit(context.Background(), []byte("{not json"), rxmodel.FormatJSON, "DOC-1", "")
	if resp.Status != StatusRejected {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(resp.Errors) == 0 {
		t.Error("expected itemized errors")
	}
}

func TestSubmitRejectsUnknownFormat(t *testing.T) {
	gw, _ := newTestGateway(nil)
	resp := gw.Submit(context.Background(), []byte("{}"), "edifact", "DOC-1", "")
	if resp.Status != StatusRejected {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Field != "format" {
		t.Errorf("errors = %v", resp.Errors)
	}
}

func TestSubmitFHIRBundle(t *testing.T) {
	gw, _ := newTestGateway(nil)

	canonical, err := rxmodel.DecodeCanonicalJSON([]byte(validJSON))
	if err != nil {
		t.Fatal(err)
	}
	canonical.Patient.BirthDate = "1980-01-15"
	canonical.Prescriber.ID = "1234567890"
	bundle, err := fhir.Encode(canonical)
	if err != nil {
		t.Fatalf("encode bundle: %v", err)
	}

	resp := gw.Submit(context.Background(), bundle, rxmodel.FormatFHIR, "DOC-1", "system")
	if resp.Status != StatusTransmitted {
		t.Fatalf("status = %q, errors = %v", resp.Status, resp.Errors)
	}
}

func TestSubmitForwardsToPharmacy(t *testing.T) {
	fw := &recordingForwarder{}
	gw, _ := newTestGateway(fw)

	payload := strings.Replace(validJSON, `"diagnosis"`, `"pharmacy_id": "PHARM-9", "diagnosis"`, 1)
	resp := gw.Submit(context.Background(), []byte(payload), rxmodel.FormatJSON, "DOC-1", "doctor")
	if resp.Status != StatusTransmitted {
		t.Fatalf("status = %q", resp.Status)
	}
	if len(fw.forwarded) != 1 || fw.forwarded[0].PharmacyID != "PHARM-9" {
		t.Errorf("forwarded = %+v", fw.forwarded)
	}
}

func TestSubmitForwardingFailure(t *testing.T) {
	fw := &recordingForwarder{err: errors.New("pharmacy endpoint down")}
	gw, _ := newTestGateway(fw)

	payload := strings.Replace(validJSON, `"diagnosis"`, `"pharmacy_id": "PHARM-9", "diagnosis"`, 1)
	resp := gw.Submit(context.Background(), []byte(payload), rxmodel.FormatJSON, "DOC-1", "doctor")
	if resp.Status != StatusError {
		t.Fatalf("status = %q", resp.Status)
	}
	if !strings.Contains(resp.Message, "pharmacy") {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestSubmitNoPharmacySkipsForwarder(t *testing.T) {
	fw := &recordingForwarder{err: errors.New("must not be called")}
	gw, _ := newTestGateway(fw)

	resp := gw.Submit(context.Background(), []byte(validJSON), rxmodel.FormatJSON, "DOC-1", "doctor")
	if resp.Status != StatusTransmitted {
		t.Fatalf("status = %q", resp.Status)
	}
}

func TestGetSubmission(t *testing.T) {
	gw, _ := newTestGateway(nil)
	resp := gw.Submit(context.Background(), []byte(validJSON), rxmodel.FormatJSON, "DOC-1", "doctor")

	rec, err := gw.GetSubmission(resp.SubmissionID)
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if rec.Status != StatusTransmitted || rec.PrescriptionTxID != resp.PrescriptionTxID {
		t.Errorf("record = %+v", rec)
	}

	if _, err := gw.GetSubmission("missing"); !rxerr.IsNotFound(err) {
		t.Errorf("missing submission: %v", err)
	}
}

func TestSubmitHandler(t *testing.T) {
	gw, _ := newTestGateway(nil)
	h := NewHandler(gw)

	e := echo.New()
	body := `{"format":"JSON","submitter_id":"DOC-1","prescription_data":` + validJSON + `}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/submit", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SubmitPrescription(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusTransmitted || !txIDPattern.MatchString(resp.PrescriptionTxID) {
		t.Errorf("response = %+v", resp)
	}
}

func TestSubmitHandlerRejection(t *testing.T) {
	gw, _ := newTestGateway(nil)
	h := NewHandler(gw)

	e := echo.New()
	body := `{"format":"JSON","submitter_id":"DOC-1","prescription_data":{"medications":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions/submit", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SubmitPrescription(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPayloadBytesUnwrapsString(t *testing.T) {
	raw := json.RawMessage(`"MSH|^~\\&|A|B"`)
	got := string(payloadBytes(raw))
	if got != `MSH|^~\&|A|B` {
		t.Errorf("got %q", got)
	}
	obj := json.RawMessage(`{"doctor_id":"D"}`)
	if string(payloadBytes(obj)) != `{"doctor_id":"D"}` {
		t.Error("object payload should pass through")
	}
}
