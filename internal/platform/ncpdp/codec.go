package ncpdp

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// Validator is the optional external validation collaborator. When
// configured, full SCRIPT schema validation is its responsibility.
type Validator interface {
	Validate(payload []byte, format string) (valid bool, errs []rxerr.FieldError)
}

// Codec converts between SCRIPT XML and the canonical model.
type Codec struct {
	validator Validator
}

// NewCodec returns a Codec. validator may be nil, in which case only the
// envelope checks run.
func NewCodec(validator Validator) *Codec {
	return &Codec{validator: validator}
}

// Decode accepts a SCRIPT payload. The content is opaque beyond requiring a
// non-empty body; field extraction from the NewRx transaction is best-effort
// and missing elements decode to zero values.
func (c *Codec) Decode(raw []byte) (*rxmodel.CanonicalPrescription, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, rxerr.WithFields(rxerr.KindFormat, "invalid NCPDP payload",
			[]rxerr.FieldError{{Field: "xml_content", Message: "xml_content is required"}})
	}

	if c.validator != nil {
		if valid, errs := c.validator.Validate(raw, string(rxmodel.FormatNCPDP)); !valid {
			return nil, rxerr.WithFields(rxerr.KindFormat, "NCPDP validation failed", errs)
		}
	}

	p := &rxmodel.CanonicalPrescription{SourceFormat: rxmodel.FormatNCPDP}

	var msg Message
	if err := xml.Unmarshal(raw, &msg); err != nil {
		// Opaque payloads that are not a SCRIPT envelope still pass decode;
		// they carry no extractable fields.
		return p, nil
	}
	newRx := msg.Body.NewRx
	if newRx == nil {
		return p, nil
	}

	p.Prescriber = rxmodel.Prescriber{
		ID:        newRx.Prescriber.NPI,
		Name:      joinName(newRx.Prescriber.FirstName, newRx.Prescriber.LastName),
		License:   newRx.Prescriber.StateLicense,
		Specialty: newRx.Prescriber.Specialty,
		Contact:   newRx.Prescriber.CommunicationNumber,
	}
	p.Patient = rxmodel.PatientInfo{
		ID:        newRx.Patient.ID,
		MRN:       newRx.Patient.MRN,
		Name:      joinName(newRx.Patient.FirstName, newRx.Patient.LastName),
		Gender:    newRx.Patient.Gender,
		BirthDate: newRx.Patient.DateOfBirth,
		Address:   newRx.Patient.Address,
		Contact:   newRx.Patient.Phone,
	}
	p.PharmacyID = newRx.Pharmacy.NCPDPID

	for _, mp := range newRx.MedicationPrescribed {
		item := rxmodel.MedicationItem{
			Code:         mp.Product.DrugCoded.Code,
			Name:         mp.Product.DrugDescription,
			DosageText:   mp.Sig,
			Instructions: mp.Note,
		}
		if q, err := strconv.ParseFloat(mp.Quantity, 64); err == nil {
			item.Quantity = q
		}
		if d, err := strconv.Atoi(mp.DaysSupply); err == nil {
			item.DaysSupply = d
		}
		if r, err := strconv.Atoi(mp.Refills); err == nil {
			item.Refills = r
		}
		p.Medications = append(p.Medications, item)
		if p.WrittenDate == "" {
			p.WrittenDate = mp.WrittenDate
		}
	}

	return p, nil
}

// Encode renders a canonical prescription as a SCRIPT NewRx message.
func (c *Codec) Encode(p *rxmodel.CanonicalPrescription) ([]byte, error) {
	if p == nil {
		return nil, rxerr.New(rxerr.KindValidation, "prescription is required")
	}
	if len(p.Medications) == 0 {
		return nil, rxerr.WithFields(rxerr.KindValidation, "cannot build NewRx",
			[]rxerr.FieldError{{Field: "medications", Message: "at least one medication is required"}})
	}

	drFirst, drLast := splitName(p.Prescriber.Name)
	ptFirst, ptLast := splitName(p.Patient.Name)

	newRx := &NewRx{
		Prescriber: ProviderParty{
			NPI:          p.Prescriber.ID,
			StateLicense: p.Prescriber.License,
			FirstName:    drFirst,
			LastName:     drLast,
			Specialty:    p.Prescriber.Specialty,
		},
		Pharmacy: PharmacyParty{NCPDPID: p.PharmacyID},
		Patient: PatientParty{
			ID:          p.Patient.ID,
			MRN:         p.Patient.MRN,
			FirstName:   ptFirst,
			LastName:    ptLast,
			Gender:      p.Patient.Gender,
			DateOfBirth: p.Patient.BirthDate,
			Address:     p.Patient.Address,
			Phone:       p.Patient.Contact,
		},
	}
	for _, m := range p.Medications {
		mp := MedicationPrescribed{
			Product: Product{
				DrugDescription: m.Name,
				DrugCoded:       DrugCoded{Code: m.Code, Qualifier: "RXN"},
			},
			Sig:         m.DosageText,
			WrittenDate: p.WrittenDate,
			Note:        m.Instructions,
		}
		if m.Quantity > 0 {
			mp.Quantity = strconv.FormatFloat(m.Quantity, 'f', -1, 64)
		}
		if m.DaysSupply > 0 {
			mp.DaysSupply = strconv.Itoa(m.DaysSupply)
		}
		if m.Refills > 0 {
			mp.Refills = strconv.Itoa(m.Refills)
		}
		newRx.MedicationPrescribed = append(newRx.MedicationPrescribed, mp)
	}

	messageID := p.TransactionID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	msg := Message{
		Xmlns:   scriptNamespace,
		Version: "2023011",
		Header: Header{
			To:        p.PharmacyID,
			From:      p.Prescriber.ID,
			MessageID: messageID,
			SentTime:  time.Now().UTC().Format(time.RFC3339),
		},
		Body: MessageBody{NewRx: newRx},
	}

	out, err := xml.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindFormat, "NewRx marshalling failed", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// BuildStatus renders a Status acknowledgement correlated to messageID.
func BuildStatus(messageID, code, description string) ([]byte, error) {
	msg := Message{
		Xmlns:   scriptNamespace,
		Version: "2023011",
		Header: Header{
			MessageID:          uuid.NewString(),
			RelatesToMessageID: messageID,
			SentTime:           time.Now().UTC().Format(time.RFC3339),
		},
		Body: MessageBody{Status: &Status{Code: code, Description: description}},
	}
	out, err := xml.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(strings.TrimSpace(name))
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
