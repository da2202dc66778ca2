package rxmodel

import (
	"testing"
)

func samplePrescription() *CanonicalPrescription {
	return &CanonicalPrescription{
		Prescriber: Prescriber{ID: "1234567890", Name: "Sarah Ahmed", License: "MD-4411", Specialty: "Cardiology"},
		Patient:    PatientInfo{ID: "29012011234567", Name: "Omar Hassan", BirthDate: "1990-01-20", Gender: "male"},
		Diagnosis:  "Hypertension",
		Medications: []MedicationItem{
			{Code: "314076", Name: "Lisinopril 10mg", DosageText: "10mg", Frequency: "once daily", Duration: "30 days", Quantity: 30, Instructions: "Take with water"},
		},
		WrittenDate: "2026-08-20",
		ExpiryDate:  "2026-11-20",
	}
}

func TestValidateOK(t *testing.T) {
	if errs := samplePrescription().Validate(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestValidateEmptyMedications(t *testing.T) {
	p := samplePrescription()
	p.Medications = nil
	errs := p.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %v", errs)
	}
	if errs[0].Field != "medications" {
		t.Errorf("field = %q, want medications", errs[0].Field)
	}
}

func TestValidateNegativeQuantity(t *testing.T) {
	p := samplePrescription()
	p.Medications[0].Quantity = -1
	errs := p.Validate()
	if len(errs) != 1 || errs[0].Field != "medications[0].quantity" {
		t.Fatalf("expected quantity error, got %v", errs)
	}
}

func TestValidateMissingIdentifiers(t *testing.T) {
	p := samplePrescription()
	p.Prescriber.ID = ""
	p.Patient.ID = ""
	errs := p.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if errs[0].Field != "doctor_id" || errs[1].Field != "patient_id" {
		t.Errorf("unexpected fields: %v", errs)
	}
}

func TestCanonicalJSONRoundTrip(t *testing.T) {
	p := samplePrescription()
	raw, err := EncodeCanonicalJSON(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeCanonicalJSON(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Prescriber.ID != p.Prescriber.ID || got.Patient.Name != p.Patient.Name {
		t.Errorf("identity fields lost in round trip: %+v", got)
	}
	if got.Diagnosis != "Hypertension" || got.ExpiryDate != "2026-11-20" {
		t.Errorf("clinical fields lost in round trip: %+v", got)
	}
	if len(got.Medications) != 1 {
		t.Fatalf("medications lost: %+v", got.Medications)
	}
	m := got.Medications[0]
	if m.Code != "314076" || m.Name != "Lisinopril 10mg" || m.Quantity != 30 || m.Frequency != "once daily" {
		t.Errorf("medication fields lost: %+v", m)
	}
	if got.SourceFormat != FormatJSON {
		t.Errorf("source format = %q, want JSON", got.SourceFormat)
	}
}

func TestDecodeCanonicalJSONRejectsGarbage(t *testing.T) {
	if _, err := DecodeCanonicalJSON([]byte("{not json")); err == nil {
		t.Fatal("expected format error for malformed JSON")
	}
	if _, err := DecodeCanonicalJSON(nil); err == nil {
		t.Fatal("expected format error for empty payload")
	}
}
