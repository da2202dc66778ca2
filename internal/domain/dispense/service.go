// Package dispense covers the pharmacy side of the exchange: retrieving a
// prescription for dispensing and recording the dispensation against it.
package dispense

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthflow/healthflow/internal/domain/prescription"
	"github.com/healthflow/healthflow/pkg/rxerr"
	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// Service guards pharmacy retrieval and records dispensations.
type Service struct {
	repo prescription.Repository
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo prescription.Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// GetPrescriptionForDispensing fetches a prescription on behalf of a
// pharmacy, refusing ones that are already dispensed or past expiry. Every
// retrieval is audited.
func (s *Service) GetPrescriptionForDispensing(ctx context.Context, txID, pharmacyID string) (*prescription.Prescription, error) {
	p, err := s.repo.GetByTxID(ctx, txID)
	if err != nil {
		return nil, err
	}

	if p.IsDispensed {
		return nil, rxerr.New(rxerr.KindValidation, "Prescription already dispensed")
	}
	if s.expired(p) {
		return nil, rxerr.New(rxerr.KindValidation, "Prescription has expired")
	}

	_ = s.repo.CreateAuditLog(ctx, &prescription.AuditLog{
		EntityType: "prescription",
		EntityID:   txID,
		Action:     "read",
		ActorID:    pharmacyID,
		ActorType:  "pharmacy",
	})

	s.log.Info().Str("tx_id", txID).Str("pharmacy_id", pharmacyID).Msg("prescription retrieved for dispensing")
	return p, nil
}

// SearchByPatient lists a patient's prescriptions for a pharmacy, audited.
func (s *Service) SearchByPatient(ctx context.Context, patientID, pharmacyID string, status rxmodel.PrescriptionStatus) ([]*prescription.Prescription, error) {
	out, _, err := s.repo.Search(ctx, prescription.SearchFilter{PatientID: patientID, Status: status})
	if err != nil {
		return nil, err
	}
	_ = s.repo.CreateAuditLog(ctx, &prescription.AuditLog{
		EntityType: "prescription",
		EntityID:   patientID,
		Action:     "search",
		ActorID:    pharmacyID,
		ActorType:  "pharmacy",
	})
	return out, nil
}

// DispenseRequest is the pharmacy's dispensation claim.
type DispenseRequest struct {
	PrescriptionTxID  string                   `json:"prescription_tx_id"`
	PharmacyID        string                   `json:"pharmacy_id"`
	PharmacyName      string                   `json:"pharmacy_name,omitempty"`
	PharmacyLicense   string                   `json:"pharmacy_license,omitempty"`
	PharmacistID      string                   `json:"pharmacist_id"`
	PharmacistName    string                   `json:"pharmacist_name,omitempty"`
	PharmacistLicense string                   `json:"pharmacist_license,omitempty"`
	Medications       []rxmodel.MedicationItem `json:"medications_dispensed"`
	Notes             string                   `json:"notes,omitempty"`
}

// RecordDispensation validates the claim against the stored prescription,
// persists the dispensation, and marks the prescription dispensed.
func (s *Service) RecordDispensation(ctx context.Context, req *DispenseRequest) (*prescription.Dispensation, error) {
	if req.PrescriptionTxID == "" || req.PharmacyID == "" || req.PharmacistID == "" {
		return nil, rxerr.New(rxerr.KindValidation, "prescription_tx_id, pharmacy_id and pharmacist_id are required")
	}

	p, err := s.repo.GetByTxID(ctx, req.PrescriptionTxID)
	if err != nil {
		return nil, err
	}
	if p.IsDispensed {
		return nil, rxerr.New(rxerr.KindValidation, "Prescription already dispensed")
	}
	if s.expired(p) {
		return nil, rxerr.New(rxerr.KindValidation, "Prescription has expired")
	}
	if len(req.Medications) != len(p.Medications) {
		return nil, rxerr.New(rxerr.KindValidation,
			"Number of dispensed medications does not match prescription")
	}

	d := &prescription.Dispensation{
		PrescriptionID:    p.ID,
		PrescriptionTxID:  p.TxID,
		PharmacyID:        req.PharmacyID,
		PharmacyName:      req.PharmacyName,
		PharmacyLicense:   req.PharmacyLicense,
		PharmacistID:      req.PharmacistID,
		PharmacistName:    req.PharmacistName,
		PharmacistLicense: req.PharmacistLicense,
		DispenseDate:      s.now().UTC(),
		Medications:       req.Medications,
		Notes:             req.Notes,
	}
	if err := s.repo.CreateDispensation(ctx, d); err != nil {
		return nil, err
	}
	if err := s.repo.MarkDispensed(ctx, p.TxID); err != nil {
		return nil, err
	}

	_ = s.repo.CreateAuditLog(ctx, &prescription.AuditLog{
		EntityType: "dispensation",
		EntityID:   p.TxID,
		Action:     "create",
		ActorID:    req.PharmacistID,
		ActorType:  "pharmacist",
		Details:    map[string]interface{}{"dispense_id": d.ID.String(), "pharmacy_id": req.PharmacyID},
	})

	s.log.Info().
		Str("dispense_id", d.ID.String()).
		Str("tx_id", p.TxID).
		Str("pharmacy_id", req.PharmacyID).
		Msg("dispensation recorded")
	return d, nil
}

// GetDispensation looks up the dispensation filed against a prescription.
func (s *Service) GetDispensation(ctx context.Context, txID string) (*prescription.Dispensation, error) {
	return s.repo.GetDispensationByTxID(ctx, txID)
}

func (s *Service) expired(p *prescription.Prescription) bool {
	if p.Status == rxmodel.StatusExpired {
		return true
	}
	if p.ExpiryDate == "" {
		return false
	}
	expiry, err := time.Parse("2006-01-02", p.ExpiryDate)
	if err != nil {
		return false
	}
	// Expiry is inclusive of the stated day.
	return s.now().UTC().After(expiry.AddDate(0, 0, 1))
}
