package hl7v2

import (
	"strings"
	"testing"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

const sampleRDE = "MSH|^~\\&|HEALTHFLOW|HEALTHFLOW_AI|PHARMACY_SYS|PHARMACY|20260820120000||RDE^O11^RDE_O11|RX-20260820-ABCDEF12|P|2.5\r" +
	"PID|1|MRN-456|PAT-123||Doe^John||19800115|M|||123 Main St^^^^||^PRN^PH^^^5551234567\r" +
	"ORC|NW|RX-20260820-ABCDEF12|||||||20260820120000|||1234567890^Smith^Jane\r" +
	"RXE|1|314076^Lisinopril 10mg^RXN|30||Take 1 tablet by mouth daily|TAB||||||3"

func TestValidateStructureOK(t *testing.T) {
	if errs := ValidateStructure([]byte(sampleRDE)); len(errs) != 0 {
		t.Fatalf("expected valid structure, got %v", errs)
	}
}

func TestValidateStructureNotMSH(t *testing.T) {
	errs := ValidateStructure([]byte("PID|1|123\rORC|NW"))
	if len(errs) == 0 {
		t.Fatal("expected structural errors")
	}
	if errs[0].Message != "Message must start with MSH segment" {
		t.Errorf("message = %q, want MSH-first error", errs[0].Message)
	}
}

func TestValidateStructureTooFewSegments(t *testing.T) {
	errs := ValidateStructure([]byte("MSH|^~\\&|A|B|C|D|20260820||ACK|1|P|2.5"))
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "at least 2 segments") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected segment-count error, got %v", errs)
	}
}

func TestValidateStructureBadSegmentID(t *testing.T) {
	errs := ValidateStructure([]byte(sampleRDE + "\rxyz|bad"))
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "Invalid segment ID 'xyz'") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected invalid segment ID error, got %v", errs)
	}
}

func TestParseFailsStructurallyBeforeGrammar(t *testing.T) {
	_, err := Parse([]byte("garbage"))
	if err == nil {
		t.Fatal("expected error")
	}
	if rxerr.KindOf(err) != rxerr.KindFormat {
		t.Errorf("kind = %q, want format", rxerr.KindOf(err))
	}
	fields := rxerr.FieldsOf(err)
	if len(fields) == 0 || fields[0].Message != "Message must start with MSH segment" {
		t.Errorf("structural findings missing: %v", fields)
	}
}

func TestParseRDE(t *testing.T) {
	msg, err := Parse([]byte(sampleRDE))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if msg.Type != "RDE^O11^RDE_O11" {
		t.Errorf("type = %q", msg.Type)
	}
	if msg.ControlID != "RX-20260820-ABCDEF12" {
		t.Errorf("control ID = %q", msg.ControlID)
	}
	if msg.Version != "2.5" {
		t.Errorf("version = %q", msg.Version)
	}
	if msg.SendingApp != "HEALTHFLOW" || msg.ReceivingFac != "PHARMACY" {
		t.Errorf("endpoints = %q/%q", msg.SendingApp, msg.ReceivingFac)
	}
	if got := len(msg.Segments); got != 4 {
		t.Errorf("segments = %d, want 4", got)
	}
}

func TestParseAcceptsNewlineEndings(t *testing.T) {
	withLF := strings.ReplaceAll(sampleRDE, "\r", "\n")
	msg, err := Parse([]byte(withLF))
	if err != nil {
		t.Fatalf("parse with LF endings: %v", err)
	}
	if len(msg.Segments) != 4 {
		t.Errorf("segments = %d, want 4", len(msg.Segments))
	}
}

func TestGetFieldAndComponent(t *testing.T) {
	msg, err := Parse([]byte(sampleRDE))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	pid := msg.GetSegment("PID")
	if pid == nil {
		t.Fatal("PID segment missing")
	}
	if got := pid.GetField(3); got != "PAT-123" {
		t.Errorf("PID-3 = %q", got)
	}
	if got := pid.GetComponent(5, 1); got != "Doe" {
		t.Errorf("PID-5.1 = %q", got)
	}
	if got := pid.GetComponent(5, 2); got != "John" {
		t.Errorf("PID-5.2 = %q", got)
	}
	// Missing sub-fields decode to empty, never error.
	if got := pid.GetComponent(5, 9); got != "" {
		t.Errorf("PID-5.9 = %q, want empty", got)
	}
	if got := pid.GetField(40); got != "" {
		t.Errorf("PID-40 = %q, want empty", got)
	}

	msh := msg.GetSegment("MSH")
	if got := msh.GetField(1); got != "|" {
		t.Errorf("MSH-1 = %q, want |", got)
	}
	if got := msh.GetField(2); got != "^~\\&" {
		t.Errorf("MSH-2 = %q", got)
	}
}

func TestGetSegmentsRepeated(t *testing.T) {
	two := sampleRDE + "\rRXE|1|197361^Amlodipine 5mg^RXN|30||Take 1 tablet daily|TAB||||||1"
	msg, err := Parse([]byte(two))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := len(msg.GetSegments("RXE")); got != 2 {
		t.Errorf("RXE count = %d, want 2", got)
	}
}

func TestParseHL7Timestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"20260820120000", "2026-08-20T12:00:00"},
		{"202608201200", "2026-08-20T12:00:00"},
		{"20260820", "2026-08-20T00:00:00"},
	}
	for _, tt := range tests {
		got, err := parseHL7Timestamp(tt.in)
		if err != nil {
			t.Errorf("parseHL7Timestamp(%q): %v", tt.in, err)
			continue
		}
		if got.Format("2006-01-02T15:04:05") != tt.want {
			t.Errorf("parseHL7Timestamp(%q) = %v, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := parseHL7Timestamp("2026"); err == nil {
		t.Error("expected error for short timestamp")
	}
}
