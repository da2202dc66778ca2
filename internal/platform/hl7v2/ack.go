package hl7v2

import (
	"fmt"
	"time"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

// Acknowledgement codes for MSA-1.
const (
	AckAccept = "AA" // application accept
	AckError  = "AE" // application error
	AckReject = "AR" // application reject
)

// BuildACK constructs an ACK message keyed to the control ID of the message
// being acknowledged. code must be one of AckAccept, AckError, AckReject;
// textMessage, when non-empty, lands in MSA-3.
func (b *Builder) BuildACK(originalControlID, code, textMessage string) []byte {
	timestamp := time.Now().UTC().Format("20060102150405")

	msh := fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||ACK|ACK-%s|P|2.5",
		escapeHL7(b.SendingApp), escapeHL7(b.SendingFac),
		escapeHL7(b.ReceivingApp), escapeHL7(b.ReceivingFac),
		timestamp, escapeHL7(originalControlID))

	msa := fmt.Sprintf("MSA|%s|%s", code, escapeHL7(originalControlID))
	if textMessage != "" {
		msa += "|" + escapeHL7(textMessage)
	}

	return []byte(msh + "\r" + msa)
}

// AckForError picks the MSA-1 code for a processing outcome: format and
// validation problems reject the message outright, anything else is an
// application error.
func AckForError(err error) string {
	if err == nil {
		return AckAccept
	}
	switch rxerr.KindOf(err) {
	case rxerr.KindFormat, rxerr.KindValidation:
		return AckReject
	default:
		return AckError
	}
}
