package prescription

import (
	"context"

	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// SearchFilter narrows prescription searches. Zero values are ignored.
type SearchFilter struct {
	PatientID string
	DoctorID  string
	Status    rxmodel.PrescriptionStatus
	Limit     int
	Offset    int
}

type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByTxID(ctx context.Context, txID string) (*Prescription, error)
	UpdateStatus(ctx context.Context, txID string, status rxmodel.PrescriptionStatus) error
	MarkDispensed(ctx context.Context, txID string) error
	Search(ctx context.Context, filter SearchFilter) ([]*Prescription, int, error)

	CreateDispensation(ctx context.Context, d *Dispensation) error
	GetDispensationByTxID(ctx context.Context, txID string) (*Dispensation, error)

	CreateAuditLog(ctx context.Context, entry *AuditLog) error
	ListAuditLogs(ctx context.Context, entityID string, limit int) ([]*AuditLog, error)
}
