package ehr

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/platform/fhir"
)

// AllscriptsConnector talks to the Allscripts FHIR facade. Endpoints sit
// under a fhir/ path prefix and every request carries the registered
// application name.
type AllscriptsConnector struct {
	client *restClient
}

// NewAllscriptsConnector returns a connector for one Allscripts tenant.
func NewAllscriptsConnector(baseURL, appName string, tokens *TokenManager, log zerolog.Logger) *AllscriptsConnector {
	client := newRESTClient(baseURL, tokens, log.With().Str("ehr", "allscripts").Logger())
	client.pathPrefix = "fhir/"
	client.headers = map[string]string{"X-App-Name": appName}
	return &AllscriptsConnector{client: client}
}

func (c *AllscriptsConnector) GetPatient(ctx context.Context, patientID string) (*fhir.Patient, error) {
	var p fhir.Patient
	if err := c.client.get(ctx, "Patient/"+patientID, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *AllscriptsConnector) GetMedications(ctx context.Context, patientID string) ([]fhir.MedicationRequest, error) {
	params := url.Values{}
	params.Set("patient", patientID)
	params.Set("status", "active")
	return c.client.searchMedications(ctx, "MedicationRequest", params)
}

func (c *AllscriptsConnector) CreatePrescription(ctx context.Context, req *fhir.MedicationRequest) (*CreatedPrescription, error) {
	var created fhir.MedicationRequest
	if err := c.client.post(ctx, "MedicationRequest", req, &created); err != nil {
		return nil, err
	}
	return &CreatedPrescription{ID: created.ID, Status: created.Status}, nil
}

func (c *AllscriptsConnector) GetPrescriptionStatus(ctx context.Context, prescriptionID string) (*PrescriptionStatus, error) {
	var mr fhir.MedicationRequest
	if err := c.client.get(ctx, "MedicationRequest/"+prescriptionID, nil, &mr); err != nil {
		return nil, err
	}
	return &PrescriptionStatus{PrescriptionID: mr.ID, Status: mr.Status}, nil
}
