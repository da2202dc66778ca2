// Package rxmodel holds the canonical prescription representation that every
// wire-format codec converges on. The types here are plain data: codecs and
// the gateway are free to share values across goroutines once built.
package rxmodel

import (
	"strconv"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

// SourceFormat identifies the wire format a prescription arrived in.
type SourceFormat string

const (
	FormatNCPDP SourceFormat = "NCPDP"
	FormatFHIR  SourceFormat = "FHIR"
	FormatHL7V2 SourceFormat = "HL7V2"
	FormatJSON  SourceFormat = "JSON"
)

var validSourceFormats = map[SourceFormat]bool{
	FormatNCPDP: true,
	FormatFHIR:  true,
	FormatHL7V2: true,
	FormatJSON:  true,
}

// ValidFormat reports whether f is a recognized wire format.
func ValidFormat(f SourceFormat) bool { return validSourceFormats[f] }

// PrescriptionStatus is the lifecycle status of a stored prescription.
type PrescriptionStatus string

const (
	StatusActive    PrescriptionStatus = "active"
	StatusDispensed PrescriptionStatus = "dispensed"
	StatusExpired   PrescriptionStatus = "expired"
	StatusCancelled PrescriptionStatus = "cancelled"
)

// Prescriber identifies the ordering clinician.
type Prescriber struct {
	ID        string `json:"id"` // NPI or national identifier
	Name      string `json:"name"`
	License   string `json:"license,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Contact   string `json:"contact,omitempty"`
}

// PatientInfo identifies the prescription subject.
type PatientInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date,omitempty"` // YYYY-MM-DD
	Gender    string `json:"gender,omitempty"`
	Contact   string `json:"contact,omitempty"`
	Address   string `json:"address,omitempty"`
	MRN       string `json:"mrn,omitempty"`
}

// MedicationItem is a single ordered medication line.
type MedicationItem struct {
	Code         string  `json:"code"` // RxNorm/NDC or source-system code
	Name         string  `json:"name"`
	DosageText   string  `json:"dosage_text,omitempty"`
	Frequency    string  `json:"frequency,omitempty"`
	Duration     string  `json:"duration,omitempty"`
	Quantity     float64 `json:"quantity"`
	DaysSupply   int     `json:"days_supply,omitempty"`
	Refills      int     `json:"refills,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
}

// CanonicalPrescription is the internal format-agnostic prescription.
// TransactionID is assigned exactly once, at gateway acceptance; codecs must
// leave it untouched.
type CanonicalPrescription struct {
	TransactionID string             `json:"transaction_id,omitempty"`
	SubmissionID  string             `json:"submission_id,omitempty"`
	Prescriber    Prescriber         `json:"prescriber"`
	Patient       PatientInfo        `json:"patient"`
	Diagnosis     string             `json:"diagnosis,omitempty"`
	Medications   []MedicationItem   `json:"medications"`
	WrittenDate   string             `json:"written_date,omitempty"` // YYYY-MM-DD
	ExpiryDate    string             `json:"expiry_date,omitempty"`  // YYYY-MM-DD
	Status        PrescriptionStatus `json:"status,omitempty"`
	SourceFormat  SourceFormat       `json:"source_format,omitempty"`
	PharmacyID    string             `json:"pharmacy_id,omitempty"` // optional routing hint
}

// Validate checks the semantic invariants of the canonical model and returns
// one FieldError per violation. An empty result means the prescription is
// acceptable for gateway processing.
func (p *CanonicalPrescription) Validate() []rxerr.FieldError {
	var errs []rxerr.FieldError
	if p.Prescriber.ID == "" {
		errs = append(errs, rxerr.FieldError{Field: "doctor_id", Message: "prescriber identifier is required"})
	}
	if p.Patient.ID == "" {
		errs = append(errs, rxerr.FieldError{Field: "patient_id", Message: "patient identifier is required"})
	}
	if len(p.Medications) == 0 {
		errs = append(errs, rxerr.FieldError{Field: "medications", Message: "at least one medication is required"})
	}
	for i, m := range p.Medications {
		if m.Name == "" && m.Code == "" {
			errs = append(errs, rxerr.FieldError{
				Field:   medField(i, "medicine_name"),
				Message: "medication needs a name or code",
			})
		}
		if m.Quantity < 0 {
			errs = append(errs, rxerr.FieldError{
				Field:   medField(i, "quantity"),
				Message: "quantity must not be negative",
			})
		}
		if m.Refills < 0 {
			errs = append(errs, rxerr.FieldError{
				Field:   medField(i, "refills"),
				Message: "refills must not be negative",
			})
		}
	}
	return errs
}

func medField(i int, name string) string {
	return "medications[" + strconv.Itoa(i) + "]." + name
}
