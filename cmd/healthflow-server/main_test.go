package main

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/domain/prescription"
	"github.com/healthflow/healthflow/internal/domain/submission"
	"github.com/healthflow/healthflow/internal/platform/queue"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

const inboundRDE = "MSH|^~\\&|CLINIC_EHR|CLINIC|HEALTHFLOW|HEALTHFLOW_AI|20260820120000||RDE^O11|MSG-0001|P|2.5\r" +
	"PID|1||PAT-123||Doe^John||19800115|M\r" +
	"ORC|NW|ORD-1|||||||20260820|||1234567890^Smith^Jane\r" +
	"RXE|1|314076^Lisinopril 10mg^RXN|30||10mg daily|TAB||||||3"

func TestMLLPHandlerQueuesValidMessage(t *testing.T) {
	inbox := queue.NewMessageQueue()
	handler := mllpHandler(inbox, zerolog.Nop())

	ack := string(handler([]byte(inboundRDE)))
	if !strings.Contains(ack, "MSA|AA|MSG-0001") {
		t.Errorf("ack = %q", ack)
	}
	if stats := inbox.Stats(); stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}
}

func TestMLLPHandlerRejectsGarbage(t *testing.T) {
	inbox := queue.NewMessageQueue()
	handler := mllpHandler(inbox, zerolog.Nop())

	ack := string(handler([]byte("not an hl7 message")))
	if !strings.Contains(ack, "MSA|AR") {
		t.Errorf("ack = %q", ack)
	}
	if stats := inbox.Stats(); stats.Pending != 0 {
		t.Errorf("pending = %d, want 0", stats.Pending)
	}
}

func TestSubmitQueuedOutcomes(t *testing.T) {
	repo := prescription.NewMemoryRepo()
	gateway := submission.NewGateway(repo, nil, zerolog.Nop())

	valid := `{
		"doctor_id": "DOC-1",
		"doctor_name": "Jane Smith",
		"patient_id": "PAT-1",
		"patient_name": "John Doe",
		"medications": [
			{"medicine_name": "Lisinopril 10mg", "medicine_code": "314076", "dosage": "10mg daily", "quantity": 30, "refills": 3}
		]
	}`
	msg := &queue.QueuedMessage{RawPayload: []byte(valid), Format: rxmodel.FormatJSON}
	if err := submitQueued(context.Background(), gateway, msg); err != nil {
		t.Errorf("valid payload: %v", err)
	}

	bad := &queue.QueuedMessage{RawPayload: []byte(`{"doctor_id": "DOC-1"}`), Format: rxmodel.FormatJSON}
	err := submitQueued(context.Background(), gateway, bad)
	if rxerr.KindOf(err) != rxerr.KindValidation {
		t.Errorf("invalid payload: %v", err)
	}
}

func TestQueuedHL7RoundTrip(t *testing.T) {
	repo := prescription.NewMemoryRepo()
	gateway := submission.NewGateway(repo, nil, zerolog.Nop())
	inbox := queue.NewMessageQueue()

	handler := mllpHandler(inbox, zerolog.Nop())
	if ack := string(handler([]byte(inboundRDE))); !strings.Contains(ack, "MSA|AA") {
		t.Fatalf("ack = %q", ack)
	}

	err := inbox.Drain(context.Background(), 1, 0, func(ctx context.Context, msg *queue.QueuedMessage) error {
		return submitQueued(ctx, gateway, msg)
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	stats := inbox.Stats()
	if stats.SuccessCount != 1 || stats.ErrorCount != 0 {
		t.Errorf("stats = %+v", stats)
	}

	stored, _, searchErr := repo.Search(context.Background(), prescription.SearchFilter{PatientID: "PAT-123"})
	if searchErr != nil || len(stored) != 1 {
		t.Fatalf("stored = %d, err = %v", len(stored), searchErr)
	}
	if stored[0].OriginalFormat != rxmodel.FormatHL7V2 {
		t.Errorf("format = %q", stored[0].OriginalFormat)
	}
}
