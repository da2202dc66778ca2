package fhir

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// nuccSpecialties maps specialty display names to NUCC taxonomy codes.
// Unknown specialties fall back to General Practice.
var nuccSpecialties = map[string]string{
	"Family Medicine":    "207Q00000X",
	"Internal Medicine":  "207R00000X",
	"Pediatrics":         "208000000X",
	"Cardiology":         "207RC0000X",
	"Dermatology":        "207N00000X",
	"Emergency Medicine": "207P00000X",
	"Psychiatry":         "2084P0800X",
}

const nuccGeneralPractice = "208D00000X"

// Encode renders a canonical prescription as a FHIR transaction Bundle with
// exactly one Patient, one Practitioner, and one MedicationRequest per
// medication item. Required elements are checked before the bundle is built;
// a violation fails the encode with the full itemized list.
func Encode(p *rxmodel.CanonicalPrescription) ([]byte, error) {
	if p == nil {
		return nil, rxerr.New(rxerr.KindValidation, "prescription is required")
	}
	if errs := validateForEncode(p); len(errs) > 0 {
		return nil, rxerr.WithFields(rxerr.KindValidation, "cannot build FHIR bundle", errs)
	}

	patient := buildPatient(&p.Patient)
	practitioner := buildPractitioner(&p.Prescriber)

	resources := []interface{}{patient, practitioner}
	for i, m := range p.Medications {
		resources = append(resources, buildMedicationRequest(p, i, &m))
	}

	bundle, err := NewTransactionBundle(resources...)
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindFormat, "bundle marshalling failed", err)
	}
	return json.Marshal(bundle)
}

// validateForEncode enforces the pre-encode rules: Patient needs name and
// birth date, Practitioner needs name and identifier, every medication needs
// a code and a dosage instruction.
func validateForEncode(p *rxmodel.CanonicalPrescription) []rxerr.FieldError {
	var errs []rxerr.FieldError
	if p.Patient.Name == "" {
		errs = append(errs, rxerr.FieldError{Field: "patient.name", Message: "Missing required field: name"})
	}
	if p.Patient.BirthDate == "" {
		errs = append(errs, rxerr.FieldError{Field: "patient.birth_date", Message: "Missing required field: birthDate"})
	}
	if p.Prescriber.Name == "" {
		errs = append(errs, rxerr.FieldError{Field: "practitioner.name", Message: "Missing required field: name"})
	}
	if p.Prescriber.ID == "" {
		errs = append(errs, rxerr.FieldError{Field: "practitioner.identifier", Message: "Missing required field: identifier"})
	}
	if p.Patient.ID == "" {
		errs = append(errs, rxerr.FieldError{Field: "patient.id", Message: "Missing required field: id"})
	}
	if len(p.Medications) == 0 {
		errs = append(errs, rxerr.FieldError{Field: "medications", Message: "at least one medication is required"})
	}
	for i, m := range p.Medications {
		prefix := "medications[" + strconv.Itoa(i) + "]"
		if m.Code == "" {
			errs = append(errs, rxerr.FieldError{Field: prefix + ".code", Message: "Missing required field: medicationCodeableConcept"})
		}
		if m.DosageText == "" && m.Instructions == "" {
			errs = append(errs, rxerr.FieldError{Field: prefix + ".dosage", Message: "Missing required field: dosageInstruction"})
		}
	}
	return errs
}

func buildPatient(pt *rxmodel.PatientInfo) *Patient {
	family, given := splitName(pt.Name)
	p := &Patient{
		ResourceType: "Patient",
		ID:           pt.ID,
		Identifier: []Identifier{
			{System: "http://healthflow.ai/patient-id", Value: pt.ID, Use: "official"},
		},
		Name:      []HumanName{{Family: family, Given: []string{given}, Use: "official"}},
		BirthDate: pt.BirthDate,
		Gender:    strings.ToLower(pt.Gender),
	}
	if pt.MRN != "" {
		p.Identifier = append(p.Identifier, Identifier{
			System: "http://healthflow.ai/mrn",
			Value:  pt.MRN,
			Type: &CodeableConcept{Coding: []Coding{{
				System:  "http://terminology.hl7.org/CodeSystem/v2-0203",
				Code:    "MR",
				Display: "Medical Record Number",
			}}},
		})
	}
	if pt.Contact != "" {
		p.Telecom = []ContactPoint{{System: "phone", Value: pt.Contact, Use: "mobile"}}
	}
	if pt.Address != "" {
		p.Address = []Address{{Line: []string{pt.Address}, Use: "home"}}
	}
	return p
}

func buildPractitioner(dr *rxmodel.Prescriber) *Practitioner {
	family, given := splitName(dr.Name)
	pr := &Practitioner{
		ResourceType: "Practitioner",
		ID:           dr.ID,
		Identifier: []Identifier{
			{System: SystemNPI, Value: dr.ID, Use: "official"},
		},
		Name: []HumanName{{Family: family, Given: []string{given}, Prefix: []string{"Dr."}, Use: "official"}},
	}
	if dr.License != "" {
		pr.Identifier = append(pr.Identifier, Identifier{
			System: "http://healthflow.ai/license",
			Value:  dr.License,
		})
	}
	if dr.Contact != "" {
		pr.Telecom = []ContactPoint{{System: "phone", Value: dr.Contact, Use: "work"}}
	}
	if dr.Specialty != "" {
		code, ok := nuccSpecialties[dr.Specialty]
		if !ok {
			code = nuccGeneralPractice
		}
		pr.Qualification = []Qualification{{
			Code: CodeableConcept{Coding: []Coding{{
				System:  SystemNUCC,
				Code:    code,
				Display: dr.Specialty,
			}}},
		}}
	}
	return pr
}

// MedicationRequests builds one MedicationRequest per medication line, for
// callers that push orders individually rather than as a Bundle.
func MedicationRequests(p *rxmodel.CanonicalPrescription) []*MedicationRequest {
	out := make([]*MedicationRequest, 0, len(p.Medications))
	for i := range p.Medications {
		out = append(out, buildMedicationRequest(p, i, &p.Medications[i]))
	}
	return out
}

func buildMedicationRequest(p *rxmodel.CanonicalPrescription, idx int, m *rxmodel.MedicationItem) *MedicationRequest {
	dosageText := m.DosageText
	if dosageText == "" {
		dosageText = m.Instructions
	}

	req := &MedicationRequest{
		ResourceType: "MedicationRequest",
		ID:           medicationRequestID(p, idx),
		Status:       "active",
		Intent:       "order",
		MedicationCodeableConcept: &CodeableConcept{
			Coding: []Coding{{System: SystemRxNorm, Code: m.Code, Display: m.Name}},
			Text:   m.Name,
		},
		Subject:    &Reference{Reference: FormatReference("Patient", p.Patient.ID)},
		Requester:  &Reference{Reference: FormatReference("Practitioner", p.Prescriber.ID)},
		AuthoredOn: time.Now().UTC().Format(time.RFC3339),
		DosageInstruction: []Dosage{{
			Text:   dosageText,
			Timing: &Timing{Repeat: &TimingRepeat{Frequency: 1, Period: 1, PeriodUnit: "d"}},
			Route: &CodeableConcept{Coding: []Coding{{
				System:  SystemSNOMED,
				Code:    RouteOralCode,
				Display: "Oral route",
			}}},
		}},
	}

	dispense := &DispenseRequest{}
	if m.Quantity > 0 {
		dispense.Quantity = &Quantity{
			Value:  m.Quantity,
			Unit:   "tablet",
			System: SystemUCUM,
			Code:   "{tablet}",
		}
	}
	refills := m.Refills
	dispense.NumberOfRepeatsAllowed = &refills
	if m.DaysSupply > 0 {
		dispense.ExpectedSupplyDuration = &Quantity{
			Value: float64(m.DaysSupply), Unit: "days", System: SystemUCUM, Code: "d",
		}
	}
	req.DispenseRequest = dispense

	if m.Instructions != "" && m.Instructions != dosageText {
		req.Note = []Annotation{{
			Text:            m.Instructions,
			AuthorReference: &Reference{Reference: FormatReference("Practitioner", p.Prescriber.ID)},
		}}
	}
	return req
}

func medicationRequestID(p *rxmodel.CanonicalPrescription, idx int) string {
	base := p.TransactionID
	if base == "" {
		base = p.SubmissionID
	}
	if base == "" {
		base = "med-req"
	}
	return base + "-" + strconv.Itoa(idx+1)
}

// Decode parses a FHIR transaction Bundle into the canonical model. Entries
// are matched by resourceType; the first Patient and Practitioner found win.
// Unknown medication coding systems are preserved as opaque codes.
func Decode(raw []byte) (*rxmodel.CanonicalPrescription, error) {
	if len(raw) == 0 {
		return nil, rxerr.New(rxerr.KindFormat, "empty FHIR payload")
	}
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, rxerr.Wrap(rxerr.KindFormat, "malformed FHIR bundle", err)
	}
	if len(bundle.Entry) == 0 {
		return nil, rxerr.WithFields(rxerr.KindFormat, "invalid FHIR bundle",
			[]rxerr.FieldError{{Field: "entry", Message: "Bundle must contain at least one entry"}})
	}

	p := &rxmodel.CanonicalPrescription{SourceFormat: rxmodel.FormatFHIR}
	havePatient, havePractitioner := false, false

	for _, entry := range bundle.Entry {
		switch resourceTypeOf(entry.Resource) {
		case "Patient":
			if havePatient {
				continue
			}
			var pt Patient
			if err := json.Unmarshal(entry.Resource, &pt); err != nil {
				return nil, rxerr.Wrap(rxerr.KindFormat, "malformed Patient resource", err)
			}
			p.Patient = extractPatient(&pt)
			havePatient = true
		case "Practitioner":
			if havePractitioner {
				continue
			}
			var pr Practitioner
			if err := json.Unmarshal(entry.Resource, &pr); err != nil {
				return nil, rxerr.Wrap(rxerr.KindFormat, "malformed Practitioner resource", err)
			}
			p.Prescriber = extractPractitioner(&pr)
			havePractitioner = true
		case "MedicationRequest":
			var mr MedicationRequest
			if err := json.Unmarshal(entry.Resource, &mr); err != nil {
				return nil, rxerr.Wrap(rxerr.KindFormat, "malformed MedicationRequest resource", err)
			}
			p.Medications = append(p.Medications, extractMedication(&mr))
		}
	}

	return p, nil
}

func extractPatient(pt *Patient) rxmodel.PatientInfo {
	info := rxmodel.PatientInfo{
		ID:        pt.ID,
		BirthDate: pt.BirthDate,
		Gender:    pt.Gender,
	}
	if len(pt.Name) > 0 {
		info.Name = joinName(pt.Name[0])
	}
	for _, t := range pt.Telecom {
		if t.System == "phone" {
			info.Contact = t.Value
			break
		}
	}
	if len(pt.Address) > 0 && len(pt.Address[0].Line) > 0 {
		info.Address = pt.Address[0].Line[0]
	}
	for _, id := range pt.Identifier {
		if strings.Contains(strings.ToLower(id.System), "mrn") {
			info.MRN = id.Value
		}
	}
	return info
}

func extractPractitioner(pr *Practitioner) rxmodel.Prescriber {
	dr := rxmodel.Prescriber{ID: pr.ID}
	if len(pr.Name) > 0 {
		dr.Name = joinName(pr.Name[0])
	}
	for _, id := range pr.Identifier {
		if strings.Contains(strings.ToLower(id.System), "npi") {
			dr.ID = id.Value
		}
		if strings.Contains(strings.ToLower(id.System), "license") {
			dr.License = id.Value
		}
	}
	for _, t := range pr.Telecom {
		if t.System == "phone" {
			dr.Contact = t.Value
			break
		}
	}
	if len(pr.Qualification) > 0 && len(pr.Qualification[0].Code.Coding) > 0 {
		dr.Specialty = pr.Qualification[0].Code.Coding[0].Display
	}
	return dr
}

func extractMedication(mr *MedicationRequest) rxmodel.MedicationItem {
	item := rxmodel.MedicationItem{}
	if cc := mr.MedicationCodeableConcept; cc != nil {
		item.Name = cc.Text
		// Prefer the RxNorm coding; otherwise keep whatever code is present.
		for _, c := range cc.Coding {
			if strings.Contains(strings.ToLower(c.System), "rxnorm") {
				item.Code = c.Code
				break
			}
		}
		if item.Code == "" && len(cc.Coding) > 0 {
			item.Code = cc.Coding[0].Code
		}
		if item.Name == "" && len(cc.Coding) > 0 {
			item.Name = cc.Coding[0].Display
		}
	}
	if len(mr.DosageInstruction) > 0 {
		item.DosageText = mr.DosageInstruction[0].Text
	}
	if dr := mr.DispenseRequest; dr != nil {
		if dr.Quantity != nil {
			item.Quantity = dr.Quantity.Value
		}
		if dr.NumberOfRepeatsAllowed != nil {
			item.Refills = *dr.NumberOfRepeatsAllowed
		}
		if dr.ExpectedSupplyDuration != nil {
			item.DaysSupply = int(dr.ExpectedSupplyDuration.Value)
		}
	}
	if len(mr.Note) > 0 {
		item.Instructions = mr.Note[0].Text
	}
	return item
}

// splitName breaks a display name into family/given: the last word is the
// family name.
func splitName(name string) (family, given string) {
	parts := strings.Fields(strings.TrimSpace(name))
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[len(parts)-1], strings.Join(parts[:len(parts)-1], " ")
	}
}

func joinName(n HumanName) string {
	given := strings.Join(n.Given, " ")
	switch {
	case given == "":
		return n.Family
	case n.Family == "":
		return given
	default:
		return given + " " + n.Family
	}
}
