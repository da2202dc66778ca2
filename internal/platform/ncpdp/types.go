// Package ncpdp implements the NCPDP SCRIPT side of the prescription
// exchange. The payload is treated as opaque XML beyond the envelope: full
// schema validation is delegated to an external validation collaborator when
// one is configured.
package ncpdp

import "encoding/xml"

// SCRIPT transaction status codes.
const (
	StatusSuccess             = "000"
	StatusAccepted            = "010"
	StatusTransactionError    = "600"
	StatusTransactionRejected = "900"
)

const scriptNamespace = "http://www.ncpdp.org/schema/SCRIPT"

// Message is the SCRIPT message envelope.
type Message struct {
	XMLName xml.Name    `xml:"Message"`
	Xmlns   string      `xml:"xmlns,attr"`
	Version string      `xml:"version,attr"`
	Release string      `xml:"release,attr,omitempty"`
	Header  Header      `xml:"Header"`
	Body    MessageBody `xml:"Body"`
}

// Header carries routing and correlation metadata.
type Header struct {
	To                 string `xml:"To"`
	From               string `xml:"From"`
	MessageID          string `xml:"MessageID"`
	RelatesToMessageID string `xml:"RelatesToMessageID,omitempty"`
	SentTime           string `xml:"SentTime"`
}

// MessageBody holds exactly one transaction element.
type MessageBody struct {
	NewRx  *NewRx  `xml:"NewRx,omitempty"`
	Status *Status `xml:"Status,omitempty"`
	Error  *Error  `xml:"Error,omitempty"`
}

// Status acknowledges a transaction.
type Status struct {
	Code        string `xml:"Code"`
	Description string `xml:"Description,omitempty"`
}

// Error reports a transaction failure.
type Error struct {
	Code        string `xml:"Code"`
	Description string `xml:"Description,omitempty"`
}

// NewRx is the new-prescription transaction.
type NewRx struct {
	Prescriber           ProviderParty          `xml:"Prescriber"`
	Pharmacy             PharmacyParty          `xml:"Pharmacy"`
	Patient              PatientParty           `xml:"Patient"`
	MedicationPrescribed []MedicationPrescribed `xml:"MedicationPrescribed"`
}

// ProviderParty identifies the prescriber.
type ProviderParty struct {
	NPI                 string `xml:"Identification>NPI,omitempty"`
	StateLicense        string `xml:"Identification>StateLicenseNumber,omitempty"`
	LastName            string `xml:"Name>LastName,omitempty"`
	FirstName           string `xml:"Name>FirstName,omitempty"`
	Specialty           string `xml:"Specialty,omitempty"`
	CommunicationNumber string `xml:"CommunicationNumbers>Communication>Number,omitempty"`
}

// PharmacyParty identifies the target pharmacy.
type PharmacyParty struct {
	NCPDPID   string `xml:"Identification>NCPDPID,omitempty"`
	StoreName string `xml:"StoreName,omitempty"`
}

// PatientParty identifies the prescription subject.
type PatientParty struct {
	ID          string `xml:"Identification>FileID,omitempty"`
	MRN         string `xml:"Identification>MedicalRecordIdentificationNumberEHR,omitempty"`
	LastName    string `xml:"Name>LastName,omitempty"`
	FirstName   string `xml:"Name>FirstName,omitempty"`
	Gender      string `xml:"Gender,omitempty"`
	DateOfBirth string `xml:"DateOfBirth>Date,omitempty"`
	Address     string `xml:"Address>AddressLine1,omitempty"`
	Phone       string `xml:"CommunicationNumbers>Communication>Number,omitempty"`
}

// MedicationPrescribed carries one prescribed product.
type MedicationPrescribed struct {
	Product     Product `xml:"Product"`
	Quantity    string  `xml:"Quantity>Value,omitempty"`
	DaysSupply  string  `xml:"DaysSupply>Value,omitempty"`
	WrittenDate string  `xml:"WrittenDate>Date,omitempty"`
	Sig         string  `xml:"Sig>SigText,omitempty"`
	Refills     string  `xml:"Refills>Value,omitempty"`
	Note        string  `xml:"Note,omitempty"`
}

// Product follows the Product/DrugCoded hierarchy.
type Product struct {
	DrugDescription string    `xml:"DrugDescription,omitempty"`
	DrugCoded       DrugCoded `xml:"DrugCoded"`
}

// DrugCoded carries the coded drug identifier.
type DrugCoded struct {
	Code      string `xml:"ProductCode>Code,omitempty"`
	Qualifier string `xml:"ProductCode>Qualifier,omitempty"`
}
