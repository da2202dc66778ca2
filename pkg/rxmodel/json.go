package rxmodel

import (
	"encoding/json"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

// canonicalEnvelope is the external JSON shape accepted and produced at the
// gateway boundary. Field names are fixed by the exchange contract and differ
// from the internal struct tags on purpose.
type canonicalEnvelope struct {
	DoctorID         string           `json:"doctor_id"`
	DoctorName       string           `json:"doctor_name,omitempty"`
	PatientID        string           `json:"patient_id"`
	PatientName      string           `json:"patient_name,omitempty"`
	Diagnosis        string           `json:"diagnosis,omitempty"`
	Medications      []medicationWire `json:"medications"`
	PrescriptionDate string           `json:"prescription_date,omitempty"`
	ExpiryDate       string           `json:"expiry_date,omitempty"`
	PharmacyID       string           `json:"pharmacy_id,omitempty"`
}

type medicationWire struct {
	MedicineCode string  `json:"medicine_code,omitempty"`
	MedicineName string  `json:"medicine_name"`
	Dosage       string  `json:"dosage,omitempty"`
	Frequency    string  `json:"frequency,omitempty"`
	Duration     string  `json:"duration,omitempty"`
	Quantity     float64 `json:"quantity,omitempty"`
	DaysSupply   int     `json:"days_supply,omitempty"`
	Refills      int     `json:"refills,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
}

// DecodeCanonicalJSON parses the gateway-boundary JSON form into the
// canonical model. Malformed JSON is a format error; semantic checks are left
// to Validate so that the gateway can report them itemized.
func DecodeCanonicalJSON(raw []byte) (*CanonicalPrescription, error) {
	if len(raw) == 0 {
		return nil, rxerr.New(rxerr.KindFormat, "empty JSON payload")
	}
	var env canonicalEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, rxerr.Wrap(rxerr.KindFormat, "malformed JSON payload", err)
	}

	p := &CanonicalPrescription{
		Prescriber:   Prescriber{ID: env.DoctorID, Name: env.DoctorName},
		Patient:      PatientInfo{ID: env.PatientID, Name: env.PatientName},
		Diagnosis:    env.Diagnosis,
		WrittenDate:  env.PrescriptionDate,
		ExpiryDate:   env.ExpiryDate,
		PharmacyID:   env.PharmacyID,
		SourceFormat: FormatJSON,
	}
	for _, m := range env.Medications {
		p.Medications = append(p.Medications, MedicationItem{
			Code:         m.MedicineCode,
			Name:         m.MedicineName,
			DosageText:   m.Dosage,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
			Quantity:     m.Quantity,
			DaysSupply:   m.DaysSupply,
			Refills:      m.Refills,
			Instructions: m.Instructions,
		})
	}
	return p, nil
}

// EncodeCanonicalJSON renders the canonical model in the gateway-boundary
// JSON form.
func EncodeCanonicalJSON(p *CanonicalPrescription) ([]byte, error) {
	env := canonicalEnvelope{
		DoctorID:         p.Prescriber.ID,
		DoctorName:       p.Prescriber.Name,
		PatientID:        p.Patient.ID,
		PatientName:      p.Patient.Name,
		Diagnosis:        p.Diagnosis,
		PrescriptionDate: p.WrittenDate,
		ExpiryDate:       p.ExpiryDate,
		PharmacyID:       p.PharmacyID,
		Medications:      make([]medicationWire, 0, len(p.Medications)),
	}
	for _, m := range p.Medications {
		env.Medications = append(env.Medications, medicationWire{
			MedicineCode: m.Code,
			MedicineName: m.Name,
			Dosage:       m.DosageText,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
			Quantity:     m.Quantity,
			DaysSupply:   m.DaysSupply,
			Refills:      m.Refills,
			Instructions: m.Instructions,
		})
	}
	return json.Marshal(env)
}
