package hl7v2

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// Builder produces outbound HL7 v2.5 messages. The application and facility
// names land in MSH-3 through MSH-6.
type Builder struct {
	SendingApp   string
	SendingFac   string
	ReceivingApp string
	ReceivingFac string
}

// NewBuilder returns a Builder with the default exchange endpoints.
func NewBuilder() *Builder {
	return &Builder{
		SendingApp:   "HEALTHFLOW",
		SendingFac:   "HEALTHFLOW_AI",
		ReceivingApp: "PHARMACY_SYS",
		ReceivingFac: "PHARMACY",
	}
}

// BuildRDEO11 renders a canonical prescription as an RDE^O11 pharmacy order:
// MSH, PID, ORC, then one RXE segment per medication. The prescription's
// transaction ID becomes the message control ID (MSH-10) and the order
// number (ORC-2).
func (b *Builder) BuildRDEO11(p *rxmodel.CanonicalPrescription) ([]byte, error) {
	if p == nil {
		return nil, rxerr.New(rxerr.KindValidation, "prescription is required")
	}
	if len(p.Medications) == 0 {
		return nil, rxerr.WithFields(rxerr.KindValidation, "cannot build RDE^O11",
			[]rxerr.FieldError{{Field: "medications", Message: "at least one medication is required"}})
	}

	segments := []string{
		b.buildMSH("RDE^O11^RDE_O11", p.TransactionID),
		buildPID(&p.Patient),
		buildORC(p.TransactionID, &p.Prescriber),
	}
	for _, m := range p.Medications {
		segments = append(segments, buildRXE(&m))
	}

	return []byte(strings.Join(segments, "\r")), nil
}

// buildMSH constructs the MSH header. controlID may be empty for messages
// not yet assigned a transaction ID.
func (b *Builder) buildMSH(msgType, controlID string) string {
	timestamp := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||%s|%s|P|2.5",
		escapeHL7(b.SendingApp), escapeHL7(b.SendingFac),
		escapeHL7(b.ReceivingApp), escapeHL7(b.ReceivingFac),
		timestamp, msgType, escapeHL7(controlID))
}

// buildPID constructs the patient identification segment.
// PID-5 is family^given; PID-11 is street^^city^state^zip.
func buildPID(pt *rxmodel.PatientInfo) string {
	family, given := splitName(pt.Name)
	dob := strings.ReplaceAll(pt.BirthDate, "-", "")
	gender := hl7Gender(pt.Gender)

	address := ""
	if pt.Address != "" {
		address = escapeHL7(pt.Address) + "^^^^"
	}
	phone := ""
	if pt.Contact != "" {
		phone = "^PRN^PH^^^" + escapeHL7(pt.Contact)
	}

	return fmt.Sprintf("PID|1|%s|%s||%s^%s||%s|%s|||%s||%s",
		escapeHL7(pt.MRN), escapeHL7(pt.ID),
		escapeHL7(family), escapeHL7(given),
		dob, gender, address, phone)
}

// buildORC constructs the common order segment. ORC-1 "NW" marks a new
// order; ORC-12 carries the ordering provider as id^family^given.
func buildORC(orderID string, dr *rxmodel.Prescriber) string {
	family, given := splitName(dr.Name)
	timestamp := time.Now().UTC().Format("20060102150405")
	return fmt.Sprintf("ORC|NW|%s|||||||%s|||%s^%s^%s",
		escapeHL7(orderID), timestamp,
		escapeHL7(dr.ID), escapeHL7(family), escapeHL7(given))
}

// buildRXE constructs a pharmacy encoded-order segment.
// RXE-2 is code^name^RXN, RXE-3 the quantity, RXE-5 the dosage instruction,
// RXE-12 the number of refills.
func buildRXE(m *rxmodel.MedicationItem) string {
	qty := ""
	if m.Quantity > 0 {
		qty = strconv.FormatFloat(m.Quantity, 'f', -1, 64)
	}
	refills := ""
	if m.Refills > 0 {
		refills = strconv.Itoa(m.Refills)
	}
	instruction := m.DosageText
	if instruction == "" {
		instruction = m.Instructions
	}
	return fmt.Sprintf("RXE|1|%s^%s^RXN|%s||%s|TAB||||||%s",
		escapeHL7(m.Code), escapeHL7(m.Name), qty,
		escapeHL7(instruction), refills)
}

// ExtractPrescription pulls a canonical prescription out of a parsed RDE^O11
// message. Missing composite sub-fields decode to empty strings; only a
// non-RDE message type is an error.
func ExtractPrescription(msg *Message) (*rxmodel.CanonicalPrescription, error) {
	if msg == nil {
		return nil, rxerr.New(rxerr.KindFormat, "message is required")
	}
	if !strings.HasPrefix(msg.Type, "RDE") {
		return nil, rxerr.Newf(rxerr.KindFormat, "expected RDE message, got %q", msg.Type)
	}

	p := &rxmodel.CanonicalPrescription{
		SourceFormat: rxmodel.FormatHL7V2,
	}

	if pid := msg.GetSegment("PID"); pid != nil {
		family := pid.GetComponent(5, 1)
		given := pid.GetComponent(5, 2)
		p.Patient = rxmodel.PatientInfo{
			ID:        pid.GetField(3),
			MRN:       pid.GetField(2),
			Name:      joinName(family, given),
			BirthDate: hl7DateToISO(pid.GetField(7)),
			Gender:    pid.GetField(8),
			Address:   pid.GetComponent(11, 1),
		}
		// PID-13 phone is ^PRN^PH^^^number; the number is the last component.
		if comps := phoneComponents(pid); len(comps) > 0 {
			p.Patient.Contact = comps[len(comps)-1]
		}
	}

	if orc := msg.GetSegment("ORC"); orc != nil {
		family := orc.GetComponent(12, 2)
		given := orc.GetComponent(12, 3)
		p.Prescriber = rxmodel.Prescriber{
			ID:   orc.GetComponent(12, 1),
			Name: joinName(family, given),
		}
	}

	for _, rxe := range msg.GetSegments("RXE") {
		item := rxmodel.MedicationItem{
			Code:       rxe.GetComponent(2, 1),
			Name:       rxe.GetComponent(2, 2),
			DosageText: rxe.GetField(5),
		}
		if q, err := strconv.ParseFloat(rxe.GetField(3), 64); err == nil {
			item.Quantity = q
		}
		if r, err := strconv.Atoi(rxe.GetField(12)); err == nil {
			item.Refills = r
		}
		p.Medications = append(p.Medications, item)
	}

	return p, nil
}

func phoneComponents(pid *Segment) []string {
	if 13 > len(pid.Fields) || pid.Fields[12].Value == "" {
		return nil
	}
	return pid.Fields[12].Components
}

// splitName breaks a display name into family^given order: the last word is
// the family name, everything before it the given name.
func splitName(name string) (family, given string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.Fields(name)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[len(parts)-1], strings.Join(parts[:len(parts)-1], " ")
}

func joinName(family, given string) string {
	switch {
	case given == "":
		return family
	case family == "":
		return given
	default:
		return given + " " + family
	}
}

func hl7Gender(g string) string {
	if g == "" {
		return "U"
	}
	return strings.ToUpper(g[:1])
}

// hl7DateToISO converts YYYYMMDD to YYYY-MM-DD, passing through anything
// that does not look like an HL7 date.
func hl7DateToISO(s string) string {
	if len(s) != 8 {
		return s
	}
	return s[:4] + "-" + s[4:6] + "-" + s[6:8]
}

// escapeHL7 escapes the HL7 delimiter characters:
//
//	\F\ = |   \S\ = ^   \R\ = ~   \E\ = \   \T\ = &
func escapeHL7(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}
