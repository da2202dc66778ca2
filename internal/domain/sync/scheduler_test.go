package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/platform/ehr"
	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

type fakeSyncer struct {
	mu    sync.Mutex
	calls int32
	errs  []error // consumed in order; nil entry means success
}

func (f *fakeSyncer) SyncPrescription(ctx context.Context, ehrSystem string, req *fhir.MedicationRequest) (*ehr.SyncResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return &ehr.SyncResult{Success: false, EHRSystem: ehrSystem, Error: err.Error()}, err
	}
	_ = n
	return &ehr.SyncResult{
		Success:           true,
		EHRSystem:         ehrSystem,
		EHRPrescriptionID: "ehr-rx-1",
		Status:            "active",
		SyncedAt:          time.Now().UTC(),
	}, nil
}

func syncPayload(txID string) *rxmodel.CanonicalPrescription {
	return &rxmodel.CanonicalPrescription{
		TransactionID: txID,
		Prescriber:    rxmodel.Prescriber{ID: "1234567890", Name: "Jane Smith"},
		Patient:       rxmodel.PatientInfo{ID: "PAT-1", Name: "John Doe", BirthDate: "1980-01-15"},
		WrittenDate:   "2026-08-20",
		Medications: []rxmodel.MedicationItem{
			{Code: "314076", Name: "Lisinopril 10mg", DosageText: "10mg daily", Quantity: 30},
		},
	}
}

func TestProcessPendingJobsSuccess(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, zerolog.Nop())

	jobID := s.ScheduleSync("RX-20260820-AAAA0001", "epic", syncPayload("RX-20260820-AAAA0001"), 0)
	results := s.ProcessPendingJobs(context.Background(), 2)

	if results.Processed != 1 || results.Succeeded != 1 || results.Failed != 0 || results.Retrying != 0 {
		t.Fatalf("results = %+v", results)
	}
	job, err := s.GetJobStatus(jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != JobCompleted || job.Attempts != 1 || job.Result == nil || !job.Result.Success {
		t.Errorf("job = %+v", job)
	}
	if job.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("max attempts = %d", job.MaxAttempts)
	}
}

func TestScheduleUsesConfiguredDefaultAttempts(t *testing.T) {
	s := NewScheduler(&fakeSyncer{}, zerolog.Nop())
	s.SetDefaultMaxAttempts(5)

	jobID := s.ScheduleSync("RX-20260820-AAAA0002", "epic", syncPayload("RX-20260820-AAAA0002"), 0)
	job, err := s.GetJobStatus(jobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", job.MaxAttempts)
	}

	// An explicit request still wins over the configured default.
	jobID = s.ScheduleSync("RX-20260820-AAAA0003", "epic", syncPayload("RX-20260820-AAAA0003"), 2)
	if job, _ := s.GetJobStatus(jobID); job.MaxAttempts != 2 {
		t.Errorf("max attempts = %d, want 2", job.MaxAttempts)
	}
}

func TestRetryableFailureExhaustsBudget(t *testing.T) {
	transport := rxerr.New(rxerr.KindTransport, "EHR unreachable")
	syncer := &fakeSyncer{errs: []error{transport, transport, transport}}
	s := NewScheduler(syncer, zerolog.Nop())

	jobID := s.ScheduleSync("RX-20260820-BBBB0001", "cerner", syncPayload("RX-20260820-BBBB0001"), 3)

	for i, want := range []JobStatus{JobPending, JobPending, JobFailed} {
		results := s.ProcessPendingJobs(context.Background(), 1)
		if results.Processed != 1 {
			t.Fatalf("pass %d: results = %+v", i, results)
		}
		job, _ := s.GetJobStatus(jobID)
		if job.Status != want {
			t.Fatalf("pass %d: status = %q, want %q", i, job.Status, want)
		}
	}

	job, _ := s.GetJobStatus(jobID)
	if job.Attempts != 3 || job.LastError == "" {
		t.Errorf("job = %+v", job)
	}
	// Nothing left to process.
	if results := s.ProcessPendingJobs(context.Background(), 1); results.Processed != 0 {
		t.Errorf("extra pass processed %d", results.Processed)
	}
}

func TestNonRetryableFailureFailsImmediately(t *testing.T) {
	syncer := &fakeSyncer{errs: []error{rxerr.New(rxerr.KindValidation, "bad order")}}
	s := NewScheduler(syncer, zerolog.Nop())

	jobID := s.ScheduleSync("RX-20260820-CCCC0001", "epic", syncPayload("RX-20260820-CCCC0001"), 3)
	results := s.ProcessPendingJobs(context.Background(), 1)

	if results.Failed != 1 || results.Retrying != 0 {
		t.Fatalf("results = %+v", results)
	}
	job, _ := s.GetJobStatus(jobID)
	if job.Status != JobFailed || job.Attempts != 1 {
		t.Errorf("job = %+v", job)
	}
}

func TestScheduleSupersedesPendingDuplicate(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, zerolog.Nop())

	first := s.ScheduleSync("RX-20260820-DDDD0001", "epic", syncPayload("RX-20260820-DDDD0001"), 3)
	second := s.ScheduleSync("RX-20260820-DDDD0001", "epic", syncPayload("RX-20260820-DDDD0001"), 3)
	// A different target is not superseded.
	other := s.ScheduleSync("RX-20260820-DDDD0001", "cerner", syncPayload("RX-20260820-DDDD0001"), 3)

	if job, _ := s.GetJobStatus(first); job.Status != JobSuperseded {
		t.Errorf("first job = %q", job.Status)
	}
	if job, _ := s.GetJobStatus(second); job.Status != JobPending {
		t.Errorf("second job = %q", job.Status)
	}
	if job, _ := s.GetJobStatus(other); job.Status != JobPending {
		t.Errorf("other-target job = %q", job.Status)
	}

	results := s.ProcessPendingJobs(context.Background(), 4)
	if results.Processed != 2 || results.Succeeded != 2 {
		t.Errorf("results = %+v", results)
	}
}

func TestConcurrentProcessPassesDoNotDoubleRun(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, zerolog.Nop())

	for i := 0; i < 20; i++ {
		s.ScheduleSync("RX-20260820-EEEE00"+string(rune('A'+i)), "epic", syncPayload("tx"), 1)
	}

	var wg sync.WaitGroup
	totals := make([]Results, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			totals[i] = s.ProcessPendingJobs(context.Background(), 4)
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range totals {
		processed += r.Processed
	}
	if processed != 20 {
		t.Errorf("processed = %d, want 20", processed)
	}
	if got := atomic.LoadInt32(&syncer.calls); got != 20 {
		t.Errorf("sync calls = %d, want 20", got)
	}
}

func TestGetJobStatusMissing(t *testing.T) {
	s := NewScheduler(&fakeSyncer{}, zerolog.Nop())
	if _, err := s.GetJobStatus("sync-missing"); !rxerr.IsNotFound(err) {
		t.Errorf("err = %v", err)
	}
}
