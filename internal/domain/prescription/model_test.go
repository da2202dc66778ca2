package prescription

import (
	"context"
	"testing"

	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

func storedPrescription(txID string) *Prescription {
	return FromCanonical(&rxmodel.CanonicalPrescription{
		TransactionID: txID,
		SubmissionID:  "sub-1",
		Prescriber:    rxmodel.Prescriber{ID: "DOC-1", Name: "Jane Smith", License: "MD-1"},
		Patient:       rxmodel.PatientInfo{ID: "PAT-1", Name: "John Doe", BirthDate: "1980-01-15"},
		WrittenDate:   "2026-08-20",
		SourceFormat:  rxmodel.FormatJSON,
		Medications: []rxmodel.MedicationItem{
			{Code: "314076", Name: "Lisinopril 10mg", Quantity: 30, Refills: 3},
		},
	}, "doctor")
}

func TestFromCanonicalDefaultsStatus(t *testing.T) {
	p := storedPrescription("RX-20260820-AAAA1111")
	if p.Status != rxmodel.StatusActive {
		t.Errorf("status = %q, want %q", p.Status, rxmodel.StatusActive)
	}
	if p.SubmitterType != "doctor" {
		t.Errorf("submitter type = %q", p.SubmitterType)
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	p := storedPrescription("RX-20260820-BBBB2222")
	c := p.ToCanonical()
	if c.TransactionID != p.TxID || c.Prescriber.ID != "DOC-1" || c.Patient.Name != "John Doe" {
		t.Errorf("canonical = %+v", c)
	}
	if len(c.Medications) != 1 || c.Medications[0].Code != "314076" {
		t.Errorf("medications = %+v", c.Medications)
	}
}

func TestMemoryRepoLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()

	p := storedPrescription("RX-20260820-CCCC3333")
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByTxID(ctx, p.TxID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PatientName != "John Doe" || got.IsDispensed {
		t.Errorf("got = %+v", got)
	}

	if err := repo.MarkDispensed(ctx, p.TxID); err != nil {
		t.Fatalf("mark dispensed: %v", err)
	}
	got, _ = repo.GetByTxID(ctx, p.TxID)
	if !got.IsDispensed || got.Status != rxmodel.StatusDispensed {
		t.Errorf("after dispense: %+v", got)
	}

	if _, err := repo.GetByTxID(ctx, "RX-00000000-MISSING0"); !rxerr.IsNotFound(err) {
		t.Errorf("missing lookup: %v", err)
	}
}

func TestMemoryRepoSearch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	a := storedPrescription("RX-20260820-DDDD4444")
	b := storedPrescription("RX-20260820-EEEE5555")
	b.PatientID = "PAT-2"
	repo.Create(ctx, a)
	repo.Create(ctx, b)

	got, total, err := repo.Search(ctx, SearchFilter{PatientID: "PAT-2"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].TxID != b.TxID {
		t.Errorf("got %d/%d results", len(got), total)
	}
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	for _, action := range []string{"create", "read", "dispense"} {
		repo.CreateAuditLog(ctx, &AuditLog{
			EntityType: "prescription",
			EntityID:   "RX-20260820-FFFF6666",
			Action:     action,
			ActorID:    "DOC-1",
			ActorType:  "doctor",
		})
	}

	logs, err := repo.ListAuditLogs(ctx, "RX-20260820-FFFF6666", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	// Newest first.
	if logs[0].Action != "dispense" {
		t.Errorf("first action = %q", logs[0].Action)
	}
}
