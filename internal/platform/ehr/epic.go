package ehr

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/platform/fhir"
)

// EpicConnector talks to Epic's FHIR R4 API. It is the only connector with
// the full clinical surface (allergies and conditions).
type EpicConnector struct {
	client *restClient
}

// NewEpicConnector returns a connector for one Epic tenant.
func NewEpicConnector(baseURL string, tokens *TokenManager, log zerolog.Logger) *EpicConnector {
	return &EpicConnector{client: newRESTClient(baseURL, tokens, log.With().Str("ehr", "epic").Logger())}
}

func (c *EpicConnector) GetPatient(ctx context.Context, patientID string) (*fhir.Patient, error) {
	var p fhir.Patient
	if err := c.client.get(ctx, "Patient/"+patientID, nil, &p); err != nil {
		return nil, err
	}
	c.client.log.Info().Str("patient_id", patientID).Msg("retrieved patient")
	return &p, nil
}

func (c *EpicConnector) GetMedications(ctx context.Context, patientID string) ([]fhir.MedicationRequest, error) {
	params := url.Values{}
	params.Set("patient", patientID)
	params.Set("status", "active")
	params.Set("_count", "100")
	meds, err := c.client.searchMedications(ctx, "MedicationRequest", params)
	if err != nil {
		return nil, err
	}
	c.client.log.Info().Str("patient_id", patientID).Int("count", len(meds)).Msg("retrieved medications")
	return meds, nil
}

func (c *EpicConnector) CreatePrescription(ctx context.Context, req *fhir.MedicationRequest) (*CreatedPrescription, error) {
	var created fhir.MedicationRequest
	if err := c.client.post(ctx, "MedicationRequest", req, &created); err != nil {
		return nil, err
	}
	c.client.log.Info().Str("ehr_prescription_id", created.ID).Msg("created prescription")
	return &CreatedPrescription{ID: created.ID, Status: created.Status}, nil
}

func (c *EpicConnector) GetPrescriptionStatus(ctx context.Context, prescriptionID string) (*PrescriptionStatus, error) {
	var mr fhir.MedicationRequest
	if err := c.client.get(ctx, "MedicationRequest/"+prescriptionID, nil, &mr); err != nil {
		return nil, err
	}
	status := &PrescriptionStatus{
		PrescriptionID: mr.ID,
		Status:         mr.Status,
		AuthoredOn:     mr.AuthoredOn,
	}
	if mr.MedicationCodeableConcept != nil {
		status.Medication = mr.MedicationCodeableConcept.Text
	}
	return status, nil
}

func (c *EpicConnector) GetAllergies(ctx context.Context, patientID string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("patient", patientID)
	params.Set("_count", "100")
	var bundle searchBundle
	if err := c.client.get(ctx, "AllergyIntolerance", params, &bundle); err != nil {
		return nil, err
	}
	c.client.log.Info().Str("patient_id", patientID).Int("count", len(bundle.Entry)).Msg("retrieved allergies")
	return bundle.resources(), nil
}

func (c *EpicConnector) GetConditions(ctx context.Context, patientID string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("patient", patientID)
	params.Set("clinical-status", "active")
	params.Set("_count", "100")
	var bundle searchBundle
	if err := c.client.get(ctx, "Condition", params, &bundle); err != nil {
		return nil, err
	}
	c.client.log.Info().Str("patient_id", patientID).Int("count", len(bundle.Entry)).Msg("retrieved conditions")
	return bundle.resources(), nil
}
