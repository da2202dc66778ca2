// Package hl7v2 implements the HL7 v2.5 side of the prescription exchange:
// ER7 parsing, RDE^O11 pharmacy order build/extract, and ACK generation.
package hl7v2

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/healthflow/healthflow/pkg/rxerr"
)

// Message represents a parsed HL7v2 message.
type Message struct {
	Type         string    // MSH-9 message type (e.g. "RDE^O11")
	ControlID    string    // MSH-10
	Version      string    // MSH-12 (e.g. "2.5")
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Segments     []Segment
}

// Segment represents a single HL7v2 segment.
type Segment struct {
	Name   string // e.g. "MSH", "PID", "ORC", "RXE"
	Fields []Field
}

// Field represents a field which can have components and repetitions.
type Field struct {
	Value      string
	Components []string   // Component-separated (^)
	Repeats    [][]string // Repetition-separated (~), each with components
}

// ValidateStructure performs the structural tier of message validation,
// before any grammar-level parsing: the message must start with MSH, contain
// at least two segments, and every segment ID must be three characters with
// no lowercase. It returns one entry per violation; an empty result means the
// message may proceed to Parse.
func ValidateStructure(raw []byte) []rxerr.FieldError {
	var errs []rxerr.FieldError

	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return []rxerr.FieldError{{Field: "message", Message: "Empty message"}}
	}

	if !strings.HasPrefix(text, "MSH") {
		errs = append(errs, rxerr.FieldError{Field: "message", Message: "Message must start with MSH segment"})
	}

	lines := segmentLines(text)
	if len(lines) < 2 {
		errs = append(errs, rxerr.FieldError{Field: "message", Message: "Message must contain at least 2 segments"})
	}

	for i, line := range lines {
		if len(line) < 3 {
			errs = append(errs, rxerr.FieldError{
				Field:   "segment",
				Message: "Line " + strconv.Itoa(i+1) + ": Segment too short",
			})
			continue
		}
		id := line[:3]
		if !isSegmentID(id) {
			errs = append(errs, rxerr.FieldError{
				Field:   "segment",
				Message: "Line " + strconv.Itoa(i+1) + ": Invalid segment ID '" + id + "'",
			})
		}
	}

	return errs
}

// Parse parses raw ER7 bytes into a structured Message. Structural validation
// runs first; a structural failure is reported with its itemized findings and
// no grammar parse is attempted. Grammar failures are reported separately.
func Parse(raw []byte) (*Message, error) {
	if structural := ValidateStructure(raw); len(structural) > 0 {
		return nil, rxerr.WithFields(rxerr.KindFormat, "HL7 structural validation failed", structural)
	}

	msg := &Message{}
	for _, line := range segmentLines(string(raw)) {
		msg.Segments = append(msg.Segments, parseSegment(line))
	}
	msg.extractMSHFields()
	return msg, nil
}

// segmentLines normalizes line endings to \r and returns the non-empty
// segment lines.
func segmentLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// isSegmentID accepts three-character IDs of uppercase letters and digits,
// e.g. MSH, RXE, PV1.
func isSegmentID(id string) bool {
	hasUpper := false
	for _, r := range id {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return hasUpper
}

// parseSegment parses a single segment line. Structural validation has
// already guaranteed the line is at least a segment ID long.
func parseSegment(line string) Segment {
	seg := Segment{}

	// MSH is special: the field separator (|) is MSH-1 itself, so Fields[0]
	// holds "|" and Fields[1] the encoding characters.
	if strings.HasPrefix(line, "MSH") {
		seg.Name = "MSH"
		if len(line) < 4 {
			return seg
		}
		fieldSep := string(line[3])
		seg.Fields = append(seg.Fields, Field{Value: fieldSep, Components: []string{fieldSep}})
		for _, part := range strings.Split(line[4:], fieldSep) {
			seg.Fields = append(seg.Fields, parseField(part))
		}
		return seg
	}

	parts := strings.SplitN(line, "|", 2)
	seg.Name = parts[0]
	if len(parts) > 1 {
		for _, f := range strings.Split(parts[1], "|") {
			seg.Fields = append(seg.Fields, parseField(f))
		}
	}
	return seg
}

// parseField parses a single field, handling components (^) and repetitions (~).
func parseField(raw string) Field {
	f := Field{Value: raw}
	for _, rep := range strings.Split(raw, "~") {
		f.Repeats = append(f.Repeats, strings.Split(rep, "^"))
	}
	f.Components = f.Repeats[0]
	return f
}

// extractMSHFields lifts commonly used MSH fields onto the Message struct.
// MSH indexing: Fields[0]=MSH-1 (separator), Fields[1]=MSH-2 (encoding
// characters), Fields[2]=MSH-3, and so on.
func (m *Message) extractMSHFields() {
	msh := m.GetSegment("MSH")
	if msh == nil {
		return
	}

	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	if ts := msh.GetField(7); ts != "" {
		if t, err := parseHL7Timestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)
}

// parseHL7Timestamp parses an HL7v2 timestamp (YYYYMMDDHHmmss, YYYYMMDDHHmm,
// or YYYYMMDD).
func parseHL7Timestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, rxerr.Newf(rxerr.KindFormat, "unrecognized HL7 timestamp %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			return &m.Segments[i]
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []Segment {
	var result []Segment
	for _, seg := range m.Segments {
		if seg.Name == name {
			result = append(result, seg)
		}
	}
	return result
}

// GetField returns the value of a field by its 1-based HL7 index. Missing
// fields return the empty string rather than an error.
func (s *Segment) GetField(index int) string {
	idx := index - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	return s.Fields[idx].Value
}

// GetComponent returns a component value by 1-based field and component
// indices. Missing sub-fields decode to the empty string.
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	idx := fieldIdx - 1
	if idx < 0 || idx >= len(s.Fields) {
		return ""
	}
	ci := compIdx - 1
	comps := s.Fields[idx].Components
	if ci < 0 || ci >= len(comps) {
		return ""
	}
	return comps[ci]
}
