package prescription

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthflow/healthflow/internal/platform/db"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const rxCols = `id, prescription_tx_id, submission_id,
	doctor_id, doctor_name, doctor_license, doctor_specialty,
	patient_id, patient_name, patient_gender, patient_dob,
	diagnosis, prescription_date, expiry_date,
	status, is_dispensed, medications, pharmacy_id,
	original_format, submitter_type, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (
			id, prescription_tx_id, submission_id,
			doctor_id, doctor_name, doctor_license, doctor_specialty,
			patient_id, patient_name, patient_gender, patient_dob,
			diagnosis, prescription_date, expiry_date,
			status, is_dispensed, medications, pharmacy_id,
			original_format, submitter_type, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
		)`,
		p.ID, p.TxID, p.SubmissionID,
		p.DoctorID, p.DoctorName, p.DoctorLicense, p.DoctorSpecialty,
		p.PatientID, p.PatientName, p.PatientGender, p.PatientDOB,
		p.Diagnosis, p.WrittenDate, p.ExpiryDate,
		p.Status, p.IsDispensed, p.Medications, p.PharmacyID,
		p.OriginalFormat, p.SubmitterType, p.CreatedAt,
	)
	if err != nil {
		return rxerr.Wrap(rxerr.KindPersistence, "create prescription", err)
	}
	return nil
}

func (r *repoPG) GetByTxID(ctx context.Context, txID string) (*Prescription, error) {
	p, err := scanRx(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rxCols+` FROM prescription WHERE prescription_tx_id = $1`, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rxerr.Newf(rxerr.KindNotFound, "prescription %s not found", txID)
	}
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindPersistence, "get prescription", err)
	}
	return p, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, txID string, status rxmodel.PrescriptionStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status = $2, updated_at = NOW()
		WHERE prescription_tx_id = $1`, txID, status)
	if err != nil {
		return rxerr.Wrap(rxerr.KindPersistence, "update prescription status", err)
	}
	if tag.RowsAffected() == 0 {
		return rxerr.Newf(rxerr.KindNotFound, "prescription %s not found", txID)
	}
	return nil
}

func (r *repoPG) MarkDispensed(ctx context.Context, txID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status = $2, is_dispensed = TRUE, updated_at = NOW()
		WHERE prescription_tx_id = $1`, txID, rxmodel.StatusDispensed)
	if err != nil {
		return rxerr.Wrap(rxerr.KindPersistence, "mark prescription dispensed", err)
	}
	if tag.RowsAffected() == 0 {
		return rxerr.Newf(rxerr.KindNotFound, "prescription %s not found", txID)
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, filter SearchFilter) ([]*Prescription, int, error) {
	where := " WHERE TRUE"
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.PatientID != "" {
		where += " AND patient_id = " + arg(filter.PatientID)
	}
	if filter.DoctorID != "" {
		where += " AND doctor_id = " + arg(filter.DoctorID)
	}
	if filter.Status != "" {
		where += " AND status = " + arg(filter.Status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescription`+where, args...).Scan(&total); err != nil {
		return nil, 0, rxerr.Wrap(rxerr.KindPersistence, "count prescriptions", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + rxCols + ` FROM prescription` + where +
		` ORDER BY created_at DESC LIMIT ` + arg(limit) + ` OFFSET ` + arg(filter.Offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, rxerr.Wrap(rxerr.KindPersistence, "search prescriptions", err)
	}
	defer rows.Close()

	var out []*Prescription
	for rows.Next() {
		p, err := scanRx(rows)
		if err != nil {
			return nil, 0, rxerr.Wrap(rxerr.KindPersistence, "scan prescription", err)
		}
		out = append(out, p)
	}
	return out, total, nil
}

func (r *repoPG) CreateDispensation(ctx context.Context, d *Dispensation) error {
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dispensation (
			id, prescription_id, prescription_tx_id,
			pharmacy_id, pharmacy_name, pharmacy_license,
			pharmacist_id, pharmacist_name, pharmacist_license,
			dispense_date, medications_dispensed, notes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.PrescriptionID, d.PrescriptionTxID,
		d.PharmacyID, d.PharmacyName, d.PharmacyLicense,
		d.PharmacistID, d.PharmacistName, d.PharmacistLicense,
		d.DispenseDate, d.Medications, d.Notes, d.CreatedAt,
	)
	if err != nil {
		return rxerr.Wrap(rxerr.KindPersistence, "create dispensation", err)
	}
	return nil
}

func (r *repoPG) GetDispensationByTxID(ctx context.Context, txID string) (*Dispensation, error) {
	var d Dispensation
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, prescription_id, prescription_tx_id,
			pharmacy_id, pharmacy_name, pharmacy_license,
			pharmacist_id, pharmacist_name, pharmacist_license,
			dispense_date, medications_dispensed, notes, created_at
		FROM dispensation WHERE prescription_tx_id = $1`, txID).Scan(
		&d.ID, &d.PrescriptionID, &d.PrescriptionTxID,
		&d.PharmacyID, &d.PharmacyName, &d.PharmacyLicense,
		&d.PharmacistID, &d.PharmacistName, &d.PharmacistLicense,
		&d.DispenseDate, &d.Medications, &d.Notes, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rxerr.Newf(rxerr.KindNotFound, "dispensation for %s not found", txID)
	}
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindPersistence, "get dispensation", err)
	}
	return &d, nil
}

func (r *repoPG) CreateAuditLog(ctx context.Context, entry *AuditLog) error {
	entry.ID = uuid.New()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, actor_id, actor_type, ts, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action,
		entry.ActorID, entry.ActorType, entry.Timestamp, entry.Details,
	)
	if err != nil {
		return rxerr.Wrap(rxerr.KindPersistence, "create audit log", err)
	}
	return nil
}

func (r *repoPG) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]*AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, entity_type, entity_id, action, actor_id, actor_type, ts, details
		FROM audit_log WHERE entity_id = $1 ORDER BY ts DESC LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, rxerr.Wrap(rxerr.KindPersistence, "list audit logs", err)
	}
	defer rows.Close()

	var out []*AuditLog
	for rows.Next() {
		var e AuditLog
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action,
			&e.ActorID, &e.ActorType, &e.Timestamp, &e.Details); err != nil {
			return nil, rxerr.Wrap(rxerr.KindPersistence, "scan audit log", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func scanRx(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(
		&p.ID, &p.TxID, &p.SubmissionID,
		&p.DoctorID, &p.DoctorName, &p.DoctorLicense, &p.DoctorSpecialty,
		&p.PatientID, &p.PatientName, &p.PatientGender, &p.PatientDOB,
		&p.Diagnosis, &p.WrittenDate, &p.ExpiryDate,
		&p.Status, &p.IsDispensed, &p.Medications, &p.PharmacyID,
		&p.OriginalFormat, &p.SubmitterType, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
