package medical

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

const allergyColumns = `id, user_id, allergen, allergy_type, severity, reaction, notes, is_active, diagnosed_date, created_at, updated_at`

// ListAllergies returns the user's active allergies by allergen.
func (s *Service) ListAllergies(ctx context.Context, userID int64) ([]domain.Allergy, error) {
	list := []domain.Allergy{}
	err := s.db.SelectContext(ctx, &list, `SELECT `+allergyColumns+` FROM allergies
        WHERE user_id = ? AND is_active = 1
        ORDER BY allergen COLLATE NOCASE`, userID)
	if err != nil {
		return nil, fmt.Errorf("list allergies: %w", err)
	}
	return list, nil
}

// AddAllergy records an allergy. An allergen already active for the user,
// ignoring case, is a conflict.
func (s *Service) AddAllergy(ctx context.Context, userID int64, in domain.AllergyInput) (domain.Allergy, error) {
	in.Allergen = strings.TrimSpace(in.Allergen)
	if err := domain.Validate(in); err != nil {
		return domain.Allergy{}, err
	}
	diagnosed, err := optionalDate(in.DiagnosedDate)
	if err != nil {
		return domain.Allergy{}, err
	}
	dup, err := exists(ctx, s.db, `SELECT 1 FROM allergies WHERE user_id = ? AND allergen = ? COLLATE NOCASE AND is_active = 1`, userID, in.Allergen)
	if err != nil {
		return domain.Allergy{}, fmt.Errorf("check allergy: %w", err)
	}
	if dup {
		return domain.Allergy{}, errAllergyRecorded
	}

	now := s.now()
	a := domain.Allergy{
		UserID:        userID,
		Allergen:      in.Allergen,
		AllergyType:   in.AllergyType,
		Severity:      in.Severity,
		Reaction:      nullIfEmpty(in.Reaction),
		Notes:         nullIfEmpty(in.Notes),
		IsActive:      true,
		DiagnosedDate: diagnosed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.db.QueryRowxContext(ctx, `INSERT INTO allergies (user_id, allergen, allergy_type, severity, reaction, notes,
            is_active, diagnosed_date, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?) RETURNING id`,
		a.UserID, a.Allergen, a.AllergyType, a.Severity, a.Reaction, a.Notes, a.DiagnosedDate, now, now).Scan(&a.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.Allergy{}, errAllergyRecorded
		}
		return domain.Allergy{}, classify(err, "add allergy", "allergy")
	}
	return a, nil
}

var errAllergyRecorded = fmt.Errorf("%w: allergy already recorded", domain.ErrConflict)

// ListConditions returns the user's chronic conditions, most recently
// diagnosed first.
func (s *Service) ListConditions(ctx context.Context, userID int64) ([]domain.ChronicCondition, error) {
	list := []domain.ChronicCondition{}
	err := s.db.SelectContext(ctx, &list, `SELECT c.id, c.user_id, c.condition_name, c.icd10_code, c.diagnosed_date,
            c.treating_doctor_id, c.severity, c.status, c.medications, c.notes, c.last_checkup_date, c.next_checkup_date,
            c.created_at, c.updated_at, d.name AS doctor_name
        FROM chronic_conditions c
        LEFT JOIN doctors d ON d.id = c.treating_doctor_id
        WHERE c.user_id = ?
        ORDER BY c.diagnosed_date DESC, c.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conditions: %w", err)
	}
	return list, nil
}

func (s *Service) AddCondition(ctx context.Context, userID int64, in domain.ConditionInput) (domain.ChronicCondition, error) {
	if err := domain.Validate(in); err != nil {
		return domain.ChronicCondition{}, err
	}
	diagnosed, err := domain.ParseDate(in.DiagnosedDate)
	if err != nil {
		return domain.ChronicCondition{}, err
	}
	nextCheckup, err := optionalDate(in.NextCheckupDate)
	if err != nil {
		return domain.ChronicCondition{}, err
	}
	if in.Severity == "" {
		in.Severity = "moderate"
	}
	if in.Status == "" {
		in.Status = "active"
	}
	var meds domain.StringList
	if len(in.Medications) > 0 {
		meds = in.Medications
	}

	now := s.now()
	c := domain.ChronicCondition{
		UserID:           userID,
		ConditionName:    strings.TrimSpace(in.ConditionName),
		ICD10Code:        nullIfEmpty(in.ICD10Code),
		DiagnosedDate:    diagnosed,
		TreatingDoctorID: in.TreatingDoctorID,
		Severity:         in.Severity,
		Status:           in.Status,
		Medications:      meds,
		Notes:            nullIfEmpty(in.Notes),
		NextCheckupDate:  nextCheckup,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.db.QueryRowxContext(ctx, `INSERT INTO chronic_conditions (user_id, condition_name, icd10_code, diagnosed_date,
            treating_doctor_id, severity, status, medications, notes, next_checkup_date, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		c.UserID, c.ConditionName, c.ICD10Code, c.DiagnosedDate, c.TreatingDoctorID, c.Severity, c.Status,
		c.Medications, c.Notes, c.NextCheckupDate, now, now).Scan(&c.ID)
	if err != nil {
		return domain.ChronicCondition{}, classify(err, "add condition", "condition")
	}
	return c, nil
}

const vitalColumns = `id, user_id, recorded_by, record_type, value, unit, recorded_date, notes, appointment_id, created_at`

// ListVitals returns the user's vital signs, newest first, optionally of one
// type.
func (s *Service) ListVitals(ctx context.Context, userID int64, recordType string) ([]domain.VitalSign, error) {
	err := oneOf("record_type", recordType, "blood_pressure", "heart_rate", "temperature", "weight", "height", "blood_sugar")
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + vitalColumns + ` FROM vital_signs WHERE user_id = ?`
	args := []any{userID}
	if recordType != "" {
		query += ` AND record_type = ?`
		args = append(args, recordType)
	}
	query += ` ORDER BY recorded_date DESC, id DESC`

	list := []domain.VitalSign{}
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list vitals: %w", err)
	}
	return list, nil
}

// RecordVital stores a measurement taken by the user. A linked appointment
// must be one of theirs.
func (s *Service) RecordVital(ctx context.Context, userID int64, in domain.VitalInput) (domain.VitalSign, error) {
	if err := domain.Validate(in); err != nil {
		return domain.VitalSign{}, err
	}
	if !json.Valid(in.Value) {
		return domain.VitalSign{}, fmt.Errorf("%w: value must be valid JSON", domain.ErrValidation)
	}
	if in.AppointmentID != nil {
		ok, err := exists(ctx, s.db, `SELECT 1 FROM appointments WHERE id = ? AND user_id = ?`, *in.AppointmentID, userID)
		if err != nil {
			return domain.VitalSign{}, fmt.Errorf("check appointment: %w", err)
		}
		if !ok {
			return domain.VitalSign{}, fmt.Errorf("%w: appointment not found", domain.ErrNotFound)
		}
	}

	now := s.now()
	recorded := now
	if in.RecordedDate != nil {
		recorded = in.RecordedDate.UTC()
	}
	v := domain.VitalSign{
		UserID:        userID,
		RecordedBy:    &userID,
		RecordType:    in.RecordType,
		Value:         in.Value,
		Unit:          strings.TrimSpace(in.Unit),
		RecordedDate:  recorded,
		Notes:         nullIfEmpty(in.Notes),
		AppointmentID: in.AppointmentID,
		CreatedAt:     now,
	}
	err := s.db.QueryRowxContext(ctx, `INSERT INTO vital_signs (user_id, recorded_by, record_type, value, unit, recorded_date,
            notes, appointment_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		v.UserID, v.RecordedBy, v.RecordType, v.Value, v.Unit, v.RecordedDate, v.Notes, v.AppointmentID, now).Scan(&v.ID)
	if err != nil {
		return domain.VitalSign{}, classify(err, "record vital", "vital sign")
	}
	return v, nil
}
