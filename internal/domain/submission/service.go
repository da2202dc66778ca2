// Package submission implements the e-prescription submission gateway: it
// accepts prescriptions in any supported wire format, normalizes them to the
// canonical model, stores them centrally, and forwards them to the designated
// pharmacy.
package submission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/domain/prescription"
	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/internal/platform/hl7v2"
	"github.com/healthflow/healthflow/internal/platform/ncpdp"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// Status is the submission lifecycle state.
type Status string

const (
	StatusReceived    Status = "received"
	StatusValidated   Status = "validated"
	StatusProcessing  Status = "processing"
	StatusTransmitted Status = "transmitted"
	StatusError       Status = "error"
	StatusRejected    Status = "rejected"
)

// Response reports the outcome of one submission.
type Response struct {
	SubmissionID     string             `json:"submission_id"`
	PrescriptionTxID string             `json:"prescription_tx_id"`
	Status           Status             `json:"status"`
	Message          string             `json:"message"`
	Timestamp        time.Time          `json:"timestamp"`
	Errors           []rxerr.FieldError `json:"errors,omitempty"`
}

// Record is the gateway's view of a submission, kept for status lookups.
type Record struct {
	SubmissionID     string               `json:"submission_id"`
	PrescriptionTxID string               `json:"prescription_tx_id,omitempty"`
	Status           Status               `json:"status"`
	SubmitterID      string               `json:"submitter_id"`
	SubmitterType    string               `json:"submitter_type"`
	Format           rxmodel.SourceFormat `json:"format"`
	ReceivedAt       time.Time            `json:"received_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Forwarder pushes an accepted prescription toward its pharmacy. The gateway
// treats it as fire-and-confirm: an error fails the submission.
type Forwarder interface {
	Forward(ctx context.Context, p *rxmodel.CanonicalPrescription) error
}

// Gateway validates, normalizes, stores, and forwards prescription
// submissions.
type Gateway struct {
	repo      prescription.Repository
	ncpdp     *ncpdp.Codec
	forwarder Forwarder
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	records map[string]*Record
}

// NewGateway wires a Gateway. forwarder may be nil; prescriptions without a
// forwarder (or without a pharmacy) are stored for pharmacy retrieval.
func NewGateway(repo prescription.Repository, forwarder Forwarder, log zerolog.Logger) *Gateway {
	return &Gateway{
		repo:      repo,
		ncpdp:     ncpdp.NewCodec(nil),
		forwarder: forwarder,
		log:       log,
		now:       time.Now,
		records:   make(map[string]*Record),
	}
}

// SetNCPDPCodec swaps in a codec with an external SCRIPT validator attached.
func (g *Gateway) SetNCPDPCodec(c *ncpdp.Codec) { g.ncpdp = c }

// Submit runs the full gateway pipeline on one wire payload.
func (g *Gateway) Submit(ctx context.Context, raw []byte, format rxmodel.SourceFormat, submitterID, submitterType string) *Response {
	submissionID := uuid.NewString()
	now := g.now().UTC()
	if submitterType == "" {
		submitterType = "doctor"
	}

	rec := &Record{
		SubmissionID:  submissionID,
		Status:        StatusReceived,
		SubmitterID:   submitterID,
		SubmitterType: submitterType,
		Format:        format,
		ReceivedAt:    now,
		UpdatedAt:     now,
	}
	g.mu.Lock()
	g.records[submissionID] = rec
	g.mu.Unlock()

	g.log.Info().
		Str("submission_id", submissionID).
		Str("submitter_id", submitterID).
		Str("format", string(format)).
		Msg("received prescription submission")

	if !rxmodel.ValidFormat(format) {
		return g.reject(rec, now, []rxerr.FieldError{
			{Field: "format", Message: "unsupported prescription format"},
		})
	}

	canonical, err := g.decode(raw, format)
	if err != nil {
		switch rxerr.KindOf(err) {
		case rxerr.KindFormat, rxerr.KindValidation:
			fields := rxerr.FieldsOf(err)
			if len(fields) == 0 {
				fields = []rxerr.FieldError{{Field: "payload", Message: err.Error()}}
			}
			return g.reject(rec, now, fields)
		default:
			return g.fail(rec, now, err)
		}
	}

	if fields := canonical.Validate(); len(fields) > 0 {
		return g.reject(rec, now, fields)
	}
	g.transition(rec, StatusValidated)
	g.transition(rec, StatusProcessing)

	canonical.SubmissionID = submissionID
	canonical.TransactionID = generateTxID(now)
	if canonical.WrittenDate == "" {
		canonical.WrittenDate = now.Format("2006-01-02")
	}

	stored := prescription.FromCanonical(canonical, submitterType)
	if err := g.repo.Create(ctx, stored); err != nil {
		return g.fail(rec, now, err)
	}

	_ = g.repo.CreateAuditLog(ctx, &prescription.AuditLog{
		EntityType: "prescription",
		EntityID:   canonical.TransactionID,
		Action:     "create",
		ActorID:    submitterID,
		ActorType:  submitterType,
		Details:    map[string]interface{}{"submission_id": submissionID, "format": string(format)},
	})

	if canonical.PharmacyID != "" && g.forwarder != nil {
		if err := g.forwarder.Forward(ctx, canonical); err != nil {
			return g.fail(rec, now, rxerr.Wrap(rxerr.KindTransport, "pharmacy forwarding failed", err))
		}
		g.log.Info().
			Str("tx_id", canonical.TransactionID).
			Str("pharmacy_id", canonical.PharmacyID).
			Msg("forwarded prescription to pharmacy")
	} else {
		g.log.Info().Str("tx_id", canonical.TransactionID).Msg("prescription stored, awaiting pharmacy retrieval")
	}

	rec.PrescriptionTxID = canonical.TransactionID
	g.transition(rec, StatusTransmitted)

	return &Response{
		SubmissionID:     submissionID,
		PrescriptionTxID: canonical.TransactionID,
		Status:           StatusTransmitted,
		Message:          "Prescription submitted and transmitted successfully",
		Timestamp:        now,
	}
}

// GetSubmission returns the gateway's record of a submission.
func (g *Gateway) GetSubmission(submissionID string) (*Record, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[submissionID]
	if !ok {
		return nil, rxerr.Newf(rxerr.KindNotFound, "submission %s not found", submissionID)
	}
	cp := *rec
	return &cp, nil
}

func (g *Gateway) decode(raw []byte, format rxmodel.SourceFormat) (*rxmodel.CanonicalPrescription, error) {
	switch format {
	case rxmodel.FormatJSON:
		return rxmodel.DecodeCanonicalJSON(raw)
	case rxmodel.FormatFHIR:
		return fhir.Decode(raw)
	case rxmodel.FormatNCPDP:
		return g.ncpdp.Decode(raw)
	case rxmodel.FormatHL7V2:
		msg, err := hl7v2.Parse(raw)
		if err != nil {
			return nil, err
		}
		return hl7v2.ExtractPrescription(msg)
	}
	return nil, rxerr.Newf(rxerr.KindFormat, "unsupported format %q", format)
}

func (g *Gateway) reject(rec *Record, ts time.Time, fields []rxerr.FieldError) *Response {
	g.transition(rec, StatusRejected)
	g.log.Warn().
		Str("submission_id", rec.SubmissionID).
		Int("errors", len(fields)).
		Msg("prescription submission rejected")
	return &Response{
		SubmissionID: rec.SubmissionID,
		Status:       StatusRejected,
		Message:      "Validation failed",
		Timestamp:    ts,
		Errors:       fields,
	}
}

func (g *Gateway) fail(rec *Record, ts time.Time, err error) *Response {
	g.transition(rec, StatusError)
	g.log.Error().Err(err).Str("submission_id", rec.SubmissionID).Msg("prescription submission failed")
	return &Response{
		SubmissionID: rec.SubmissionID,
		Status:       StatusError,
		Message:      "Submission error: " + err.Error(),
		Timestamp:    ts,
		Errors:       []rxerr.FieldError{{Field: "submission", Message: err.Error()}},
	}
}

func (g *Gateway) transition(rec *Record, next Status) {
	g.mu.Lock()
	rec.Status = next
	rec.UpdatedAt = g.now().UTC()
	g.mu.Unlock()
}

// generateTxID builds a transaction ID of the form RX-<UTC date>-<8 hex>.
func generateTxID(ts time.Time) string {
	unique := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "RX-" + ts.Format("20060102") + "-" + unique
}
