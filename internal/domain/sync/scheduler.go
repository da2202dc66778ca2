// Package sync schedules prescription pushes to downstream EHR systems and
// drives them to completion with bounded retries.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthflow/healthflow/internal/platform/ehr"
	"github.com/healthflow/healthflow/internal/platform/fhir"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// JobStatus is the lifecycle state of a sync job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobSuperseded JobStatus = "superseded"
)

// DefaultMaxAttempts bounds retries when the caller does not choose.
const DefaultMaxAttempts = 3

// Syncer is the downstream push the scheduler drives. *ehr.IntegrationService
// satisfies it.
type Syncer interface {
	SyncPrescription(ctx context.Context, ehrSystem string, req *fhir.MedicationRequest) (*ehr.SyncResult, error)
}

// Job is one scheduled prescription push.
type Job struct {
	JobID            string                         `json:"job_id"`
	PrescriptionTxID string                         `json:"prescription_tx_id"`
	EHRSystem        string                         `json:"ehr_system"`
	Payload          *rxmodel.CanonicalPrescription `json:"-"`
	MaxAttempts      int                            `json:"max_attempts"`
	Attempts         int                            `json:"attempts"`
	Status           JobStatus                      `json:"status"`
	CreatedAt        time.Time                      `json:"created_at"`
	LastAttemptAt    *time.Time                     `json:"last_attempt_at,omitempty"`
	LastError        string                         `json:"last_error,omitempty"`
	Result           *ehr.SyncResult                `json:"result,omitempty"`
}

// Results summarizes one ProcessPendingJobs pass.
type Results struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retrying  int `json:"retrying"`
}

// Scheduler holds the job arena and pushes pending jobs through the Syncer.
type Scheduler struct {
	syncer      Syncer
	log         zerolog.Logger
	now         func() time.Time
	maxAttempts int

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewScheduler(syncer Syncer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		syncer:      syncer,
		log:         log,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		jobs:        make(map[string]*Job),
	}
}

// SetDefaultMaxAttempts overrides the retry bound applied when a schedule
// request does not choose one.
func (s *Scheduler) SetDefaultMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// ScheduleSync queues a prescription for push to the target EHR. A still
// pending job for the same prescription and target is superseded so only the
// newest payload goes out.
func (s *Scheduler) ScheduleSync(txID, ehrSystem string, payload *rxmodel.CanonicalPrescription, maxAttempts int) string {
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	now := s.now().UTC()
	job := &Job{
		JobID:            "sync-" + txID + "-" + now.Format("20060102150405") + "-" + uuid.NewString()[:8],
		PrescriptionTxID: txID,
		EHRSystem:        ehrSystem,
		Payload:          payload,
		MaxAttempts:      maxAttempts,
		Status:           JobPending,
		CreatedAt:        now,
	}

	s.mu.Lock()
	for _, existing := range s.jobs {
		if existing.Status == JobPending &&
			existing.PrescriptionTxID == txID && existing.EHRSystem == ehrSystem {
			existing.Status = JobSuperseded
		}
	}
	s.jobs[job.JobID] = job
	s.mu.Unlock()

	s.log.Info().Str("job_id", job.JobID).Str("ehr", ehrSystem).Msg("scheduled sync job")
	return job.JobID
}

// ProcessPendingJobs claims every pending job and runs it on a bounded worker
// pool. Transient failures (auth, transport) requeue until the attempt budget
// runs out; anything else fails the job immediately.
func (s *Scheduler) ProcessPendingJobs(ctx context.Context, workers int) Results {
	if workers <= 0 {
		workers = 1
	}

	s.mu.Lock()
	var claimed []*Job
	for _, job := range s.jobs {
		if job.Status == JobPending {
			job.Status = JobProcessing
			claimed = append(claimed, job)
		}
	}
	s.mu.Unlock()

	var (
		resMu   sync.Mutex
		results Results
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range claimed {
		job := job
		g.Go(func() error {
			outcome := s.runJob(ctx, job)
			resMu.Lock()
			results.Processed++
			switch outcome {
			case JobCompleted:
				results.Succeeded++
			case JobPending:
				results.Retrying++
			default:
				results.Failed++
			}
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runJob executes one attempt and returns the job's resulting status.
func (s *Scheduler) runJob(ctx context.Context, job *Job) JobStatus {
	s.mu.Lock()
	job.Attempts++
	now := s.now().UTC()
	job.LastAttemptAt = &now
	attempts, maxAttempts := job.Attempts, job.MaxAttempts
	s.mu.Unlock()

	result, err := s.push(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		job.Status = JobCompleted
		job.Result = result
		job.LastError = ""
		s.log.Info().Str("job_id", job.JobID).Msg("sync job completed")
		return JobCompleted
	}

	job.LastError = err.Error()
	if rxerr.Retryable(err) && attempts < maxAttempts {
		job.Status = JobPending
		s.log.Warn().Err(err).
			Str("job_id", job.JobID).
			Int("attempt", attempts).
			Int("max_attempts", maxAttempts).
			Msg("sync job will retry")
		return JobPending
	}

	job.Status = JobFailed
	if result != nil {
		job.Result = result
	}
	s.log.Error().Err(err).Str("job_id", job.JobID).Int("attempts", attempts).Msg("sync job failed")
	return JobFailed
}

// push sends every medication order of the payload; the first failure aborts
// the attempt.
func (s *Scheduler) push(ctx context.Context, job *Job) (*ehr.SyncResult, error) {
	var last *ehr.SyncResult
	for _, req := range fhir.MedicationRequests(job.Payload) {
		result, err := s.syncer.SyncPrescription(ctx, job.EHRSystem, req)
		if err != nil {
			return result, err
		}
		last = result
	}
	if last == nil {
		return nil, rxerr.New(rxerr.KindValidation, "sync payload has no medications")
	}
	return last, nil
}

// GetJobStatus returns a snapshot of one job.
func (s *Scheduler) GetJobStatus(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, rxerr.Newf(rxerr.KindNotFound, "sync job %s not found", jobID)
	}
	cp := *job
	return &cp, nil
}

// PendingCount reports how many jobs are waiting.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.Status == JobPending {
			n++
		}
	}
	return n
}
