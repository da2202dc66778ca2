package ehr

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/pkg/rxerr"
)

// PatientSummary condenses a FHIR Patient to the fields downstream decision
// support needs.
type PatientSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	DOB       string `json:"dob"`
	Gender    string `json:"gender"`
	MRN       string `json:"mrn,omitempty"`
}

// MedicationSummary condenses one active MedicationRequest.
type MedicationSummary struct {
	Name   string `json:"name"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status"`
	Dosage string `json:"dosage"`
}

// ConditionSummary condenses one active Condition.
type ConditionSummary struct {
	Name   string `json:"name"`
	Code   string `json:"code,omitempty"`
	Status string `json:"status,omitempty"`
}

// PatientContext is the combined clinical snapshot pulled from one EHR.
type PatientContext struct {
	Patient            PatientSummary      `json:"patient"`
	CurrentMedications []MedicationSummary `json:"current_medications"`
	Allergies          []string            `json:"allergies"`
	Conditions         []ConditionSummary  `json:"conditions"`
	RetrievedAt        time.Time           `json:"retrieved_at"`
	SourceEHR          string              `json:"source_ehr"`
}

// SyncResult reports one prescription push to an EHR.
type SyncResult struct {
	Success           bool      `json:"success"`
	EHRSystem         string    `json:"ehr_system"`
	EHRPrescriptionID string    `json:"ehr_prescription_id,omitempty"`
	Status            string    `json:"status,omitempty"`
	Error             string    `json:"error,omitempty"`
	SyncedAt          time.Time `json:"synced_at"`
}

// IntegrationService routes operations to registered EHR connectors by
// system name.
type IntegrationService struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	log        zerolog.Logger
}

// NewIntegrationService returns an empty connector registry.
func NewIntegrationService(log zerolog.Logger) *IntegrationService {
	return &IntegrationService{connectors: make(map[string]Connector), log: log}
}

// Register adds or replaces the connector for an EHR system. Names are
// case-insensitive.
func (s *IntegrationService) Register(ehrSystem string, c Connector) {
	s.mu.Lock()
	s.connectors[strings.ToLower(ehrSystem)] = c
	s.mu.Unlock()
	s.log.Info().Str("ehr", ehrSystem).Msg("registered EHR connector")
}

// Connector looks up a registered connector.
func (s *IntegrationService) Connector(ehrSystem string) (Connector, error) {
	s.mu.RLock()
	c, ok := s.connectors[strings.ToLower(ehrSystem)]
	s.mu.RUnlock()
	if !ok {
		return nil, rxerr.Newf(rxerr.KindNotFound, "no connector registered for EHR system: %s", ehrSystem)
	}
	return c, nil
}

// Registered lists the registered EHR system names.
func (s *IntegrationService) Registered() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.connectors))
	for name := range s.connectors {
		names = append(names, name)
	}
	return names
}

// GetPatientContext pulls demographics and active medications from the EHR,
// plus allergies and conditions when the connector supports them. A missing
// or failing clinical-extras surface degrades to empty lists, never an error.
func (s *IntegrationService) GetPatientContext(ctx context.Context, ehrSystem, patientID string) (*PatientContext, error) {
	c, err := s.Connector(ehrSystem)
	if err != nil {
		return nil, err
	}

	patient, err := c.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	medications, err := c.GetMedications(ctx, patientID)
	if err != nil {
		return nil, err
	}

	pctx := &PatientContext{
		Patient:            summarizePatient(patient),
		CurrentMedications: summarizeMedications(medications),
		Allergies:          []string{},
		Conditions:         []ConditionSummary{},
		RetrievedAt:        time.Now().UTC(),
		SourceEHR:          ehrSystem,
	}

	if extras, ok := c.(ClinicalExtras); ok {
		if allergies, err := extras.GetAllergies(ctx, patientID); err != nil {
			s.log.Warn().Err(err).Str("patient_id", patientID).Msg("could not retrieve allergies")
		} else {
			pctx.Allergies = summarizeAllergies(allergies)
		}
		if conditions, err := extras.GetConditions(ctx, patientID); err != nil {
			s.log.Warn().Err(err).Str("patient_id", patientID).Msg("could not retrieve conditions")
		} else {
			pctx.Conditions = summarizeConditions(conditions)
		}
	}

	s.log.Info().
		Str("ehr", ehrSystem).
		Str("patient_id", patientID).
		Int("medications", len(pctx.CurrentMedications)).
		Int("allergies", len(pctx.Allergies)).
		Int("conditions", len(pctx.Conditions)).
		Msg("retrieved patient context")

	return pctx, nil
}

// SyncPrescription pushes a MedicationRequest to the target EHR. Failures
// come back inside the result rather than as an error so callers can record
// the outcome uniformly; the wrapped cause is still available via Err.
func (s *IntegrationService) SyncPrescription(ctx context.Context, ehrSystem string, req *fhir.MedicationRequest) (*SyncResult, error) {
	c, err := s.Connector(ehrSystem)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{EHRSystem: ehrSystem, SyncedAt: time.Now().UTC()}

	created, err := c.CreatePrescription(ctx, req)
	if err != nil {
		s.log.Error().Err(err).Str("ehr", ehrSystem).Msg("prescription sync failed")
		result.Error = err.Error()
		return result, err
	}

	result.Success = true
	result.EHRPrescriptionID = created.ID
	result.Status = created.Status
	s.log.Info().Str("ehr", ehrSystem).Str("ehr_prescription_id", created.ID).Msg("synced prescription")
	return result, nil
}

// CheckPrescriptionStatus fetches the current order status from the EHR.
func (s *IntegrationService) CheckPrescriptionStatus(ctx context.Context, ehrSystem, prescriptionID string) (*PrescriptionStatus, error) {
	c, err := s.Connector(ehrSystem)
	if err != nil {
		return nil, err
	}
	status, err := c.GetPrescriptionStatus(ctx, prescriptionID)
	if err != nil {
		s.log.Error().Err(err).Str("ehr", ehrSystem).Str("prescription_id", prescriptionID).Msg("status check failed")
		return nil, err
	}
	return status, nil
}

func summarizePatient(p *fhir.Patient) PatientSummary {
	s := PatientSummary{ID: p.ID, DOB: p.BirthDate, Gender: p.Gender}
	if len(p.Name) > 0 {
		s.LastName = p.Name[0].Family
		if len(p.Name[0].Given) > 0 {
			s.FirstName = p.Name[0].Given[0]
		}
	}
	for _, id := range p.Identifier {
		if id.Type == nil {
			continue
		}
		for _, c := range id.Type.Coding {
			if c.Code == "MR" {
				s.MRN = id.Value
			}
		}
	}
	return s
}

func summarizeMedications(meds []fhir.MedicationRequest) []MedicationSummary {
	out := make([]MedicationSummary, 0, len(meds))
	for _, m := range meds {
		summary := MedicationSummary{Name: "Unknown", Status: m.Status}
		if cc := m.MedicationCodeableConcept; cc != nil {
			if cc.Text != "" {
				summary.Name = cc.Text
			}
			if len(cc.Coding) > 0 {
				summary.Code = cc.Coding[0].Code
			}
		}
		if len(m.DosageInstruction) > 0 {
			summary.Dosage = m.DosageInstruction[0].Text
		}
		out = append(out, summary)
	}
	return out
}

func summarizeAllergies(resources []json.RawMessage) []string {
	out := make([]string, 0, len(resources))
	for _, raw := range resources {
		var allergy struct {
			Code fhir.CodeableConcept `json:"code"`
		}
		if err := json.Unmarshal(raw, &allergy); err != nil {
			continue
		}
		name := allergy.Code.Text
		if name == "" && len(allergy.Code.Coding) > 0 {
			name = allergy.Code.Coding[0].Display
		}
		if name == "" {
			name = "Unknown"
		}
		out = append(out, name)
	}
	return out
}

func summarizeConditions(resources []json.RawMessage) []ConditionSummary {
	out := make([]ConditionSummary, 0, len(resources))
	for _, raw := range resources {
		var condition struct {
			Code           fhir.CodeableConcept `json:"code"`
			ClinicalStatus fhir.CodeableConcept `json:"clinicalStatus"`
		}
		if err := json.Unmarshal(raw, &condition); err != nil {
			continue
		}
		summary := ConditionSummary{Name: condition.Code.Text}
		if summary.Name == "" {
			summary.Name = "Unknown"
		}
		if len(condition.Code.Coding) > 0 {
			summary.Code = condition.Code.Coding[0].Code
		}
		if len(condition.ClinicalStatus.Coding) > 0 {
			summary.Status = condition.ClinicalStatus.Coding[0].Code
		}
		out = append(out, summary)
	}
	return out
}
