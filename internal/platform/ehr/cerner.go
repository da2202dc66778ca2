package ehr

import (
	"context"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/platform/fhir"
)

// CernerConnector talks to Cerner's FHIR R4 API. It covers the base
// Connector surface only.
type CernerConnector struct {
	client *restClient
}

// NewCernerConnector returns a connector for one Cerner tenant.
func NewCernerConnector(baseURL string, tokens *TokenManager, log zerolog.Logger) *CernerConnector {
	return &CernerConnector{client: newRESTClient(baseURL, tokens, log.With().Str("ehr", "cerner").Logger())}
}

func (c *CernerConnector) GetPatient(ctx context.Context, patientID string) (*fhir.Patient, error) {
	var p fhir.Patient
	if err := c.client.get(ctx, "Patient/"+patientID, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *CernerConnector) GetMedications(ctx context.Context, patientID string) ([]fhir.MedicationRequest, error) {
	params := url.Values{}
	params.Set("patient", patientID)
	params.Set("status", "active")
	return c.client.searchMedications(ctx, "MedicationRequest", params)
}

func (c *CernerConnector) CreatePrescription(ctx context.Context, req *fhir.MedicationRequest) (*CreatedPrescription, error) {
	var created fhir.MedicationRequest
	if err := c.client.post(ctx, "MedicationRequest", req, &created); err != nil {
		return nil, err
	}
	return &CreatedPrescription{ID: created.ID, Status: created.Status}, nil
}

func (c *CernerConnector) GetPrescriptionStatus(ctx context.Context, prescriptionID string) (*PrescriptionStatus, error) {
	var mr fhir.MedicationRequest
	if err := c.client.get(ctx, "MedicationRequest/"+prescriptionID, nil, &mr); err != nil {
		return nil, err
	}
	return &PrescriptionStatus{
		PrescriptionID: mr.ID,
		Status:         mr.Status,
		AuthoredOn:     mr.AuthoredOn,
	}, nil
}
