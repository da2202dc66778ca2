package prescription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// MemoryRepo is a map-backed Repository for tests and single-node
// development runs.
type MemoryRepo struct {
	mu            sync.RWMutex
	prescriptions map[string]*Prescription
	dispensations map[string]*Dispensation
	auditLogs     []*AuditLog
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		prescriptions: make(map[string]*Prescription),
		dispensations: make(map[string]*Dispensation),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	cp := *p
	r.prescriptions[p.TxID] = &cp
	return nil
}

func (r *MemoryRepo) GetByTxID(ctx context.Context, txID string) (*Prescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prescriptions[txID]
	if !ok {
		return nil, rxerr.Newf(rxerr.KindNotFound, "prescription %s not found", txID)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, txID string, status rxmodel.PrescriptionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prescriptions[txID]
	if !ok {
		return rxerr.Newf(rxerr.KindNotFound, "prescription %s not found", txID)
	}
	now := time.Now().UTC()
	p.Status = status
	p.UpdatedAt = &now
	return nil
}

func (r *MemoryRepo) MarkDispensed(ctx context.Context, txID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prescriptions[txID]
	if !ok {
		return rxerr.Newf(rxerr.KindNotFound, "prescription %s not found", txID)
	}
	now := time.Now().UTC()
	p.Status = rxmodel.StatusDispensed
	p.IsDispensed = true
	p.UpdatedAt = &now
	return nil
}

func (r *MemoryRepo) Search(ctx context.Context, filter SearchFilter) ([]*Prescription, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Prescription
	for _, p := range r.prescriptions {
		if filter.PatientID != "" && p.PatientID != filter.PatientID {
			continue
		}
		if filter.DoctorID != "" && p.DoctorID != filter.DoctorID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (r *MemoryRepo) CreateDispensation(ctx context.Context, d *Dispensation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	cp := *d
	r.dispensations[d.PrescriptionTxID] = &cp
	return nil
}

func (r *MemoryRepo) GetDispensationByTxID(ctx context.Context, txID string) (*Dispensation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispensations[txID]
	if !ok {
		return nil, rxerr.Newf(rxerr.KindNotFound, "dispensation for %s not found", txID)
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepo) CreateAuditLog(ctx context.Context, entry *AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = uuid.New()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	cp := *entry
	r.auditLogs = append(r.auditLogs, &cp)
	return nil
}

func (r *MemoryRepo) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]*AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*AuditLog
	for i := len(r.auditLogs) - 1; i >= 0; i-- {
		if r.auditLogs[i].EntityID != entityID {
			continue
		}
		cp := *r.auditLogs[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
