// Package prescription holds the central store records of the exchange: the
// prescription of record, its dispensation, and the audit trail.
package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// Prescription is the stored record behind a transaction ID.
type Prescription struct {
	ID              uuid.UUID                  `json:"id"`
	TxID            string                     `json:"prescription_tx_id"`
	SubmissionID    string                     `json:"submission_id"`
	DoctorID        string                     `json:"doctor_id"`
	DoctorName      string                     `json:"doctor_name"`
	DoctorLicense   string                     `json:"doctor_license"`
	DoctorSpecialty string                     `json:"doctor_specialty,omitempty"`
	PatientID       string                     `json:"patient_id"`
	PatientName     string                     `json:"patient_name"`
	PatientGender   string                     `json:"patient_gender,omitempty"`
	PatientDOB      string                     `json:"patient_dob,omitempty"`
	Diagnosis       string                     `json:"diagnosis,omitempty"`
	WrittenDate     string                     `json:"prescription_date"`
	ExpiryDate      string                     `json:"expiry_date,omitempty"`
	Status          rxmodel.PrescriptionStatus `json:"status"`
	IsDispensed     bool                       `json:"is_dispensed"`
	Medications     []rxmodel.MedicationItem   `json:"medications"`
	PharmacyID      string                     `json:"pharmacy_id,omitempty"`
	OriginalFormat  rxmodel.SourceFormat       `json:"original_format"`
	SubmitterType   string                     `json:"submitter_type,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       *time.Time                 `json:"updated_at,omitempty"`
}

// FromCanonical builds a storable record from a canonical prescription.
func FromCanonical(p *rxmodel.CanonicalPrescription, submitterType string) *Prescription {
	status := p.Status
	if status == "" {
		status = rxmodel.StatusActive
	}
	return &Prescription{
		TxID:            p.TransactionID,
		SubmissionID:    p.SubmissionID,
		DoctorID:        p.Prescriber.ID,
		DoctorName:      p.Prescriber.Name,
		DoctorLicense:   p.Prescriber.License,
		DoctorSpecialty: p.Prescriber.Specialty,
		PatientID:       p.Patient.ID,
		PatientName:     p.Patient.Name,
		PatientGender:   p.Patient.Gender,
		PatientDOB:      p.Patient.BirthDate,
		Diagnosis:       p.Diagnosis,
		WrittenDate:     p.WrittenDate,
		ExpiryDate:      p.ExpiryDate,
		Status:          status,
		Medications:     p.Medications,
		PharmacyID:      p.PharmacyID,
		OriginalFormat:  p.SourceFormat,
		SubmitterType:   submitterType,
	}
}

// ToCanonical maps a stored record back onto the canonical model.
func (p *Prescription) ToCanonical() *rxmodel.CanonicalPrescription {
	return &rxmodel.CanonicalPrescription{
		TransactionID: p.TxID,
		SubmissionID:  p.SubmissionID,
		Prescriber: rxmodel.Prescriber{
			ID:        p.DoctorID,
			Name:      p.DoctorName,
			License:   p.DoctorLicense,
			Specialty: p.DoctorSpecialty,
		},
		Patient: rxmodel.PatientInfo{
			ID:        p.PatientID,
			Name:      p.PatientName,
			Gender:    p.PatientGender,
			BirthDate: p.PatientDOB,
		},
		Diagnosis:    p.Diagnosis,
		Medications:  p.Medications,
		WrittenDate:  p.WrittenDate,
		ExpiryDate:   p.ExpiryDate,
		Status:       p.Status,
		SourceFormat: p.OriginalFormat,
		PharmacyID:   p.PharmacyID,
	}
}

// Dispensation records a pharmacy filling a prescription.
type Dispensation struct {
	ID                uuid.UUID                `json:"id"`
	PrescriptionID    uuid.UUID                `json:"prescription_id"`
	PrescriptionTxID  string                   `json:"prescription_tx_id"`
	PharmacyID        string                   `json:"pharmacy_id"`
	PharmacyName      string                   `json:"pharmacy_name,omitempty"`
	PharmacyLicense   string                   `json:"pharmacy_license,omitempty"`
	PharmacistID      string                   `json:"pharmacist_id"`
	PharmacistName    string                   `json:"pharmacist_name,omitempty"`
	PharmacistLicense string                   `json:"pharmacist_license,omitempty"`
	DispenseDate      time.Time                `json:"dispense_date"`
	Medications       []rxmodel.MedicationItem `json:"medications_dispensed"`
	Notes             string                   `json:"notes,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
}

// AuditLog is one entry in the exchange audit trail.
type AuditLog struct {
	ID         uuid.UUID              `json:"id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	ActorID    string                 `json:"actor_id"`
	ActorType  string                 `json:"actor_type"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}
