package medical

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

const summaryColumns = `id, user_id, blood_type, emergency_contact_name, emergency_contact_phone, emergency_contact_relation,
    primary_doctor_id, insurance_provider, insurance_policy_number, known_allergies, chronic_medications,
    last_updated, created_at`

// GetSummary returns the user's medical history summary, creating an empty
// one on first access, together with record counts.
func (s *Service) GetSummary(ctx context.Context, userID int64) (domain.MedicalSummary, error) {
	var summary domain.MedicalSummary
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		if err := s.ensureSummary(ctx, tx, userID); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &summary, `SELECT `+summaryColumns+` FROM medical_history_summary WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("load summary: %w", err)
		}
		err := tx.GetContext(ctx, &summary.Statistics, `SELECT
                (SELECT COUNT(*) FROM medical_reports WHERE user_id = ?) AS total_reports,
                (SELECT COUNT(*) FROM medical_prescriptions WHERE user_id = ? AND status = 'active') AS active_prescriptions,
                (SELECT COUNT(*) FROM appointments WHERE user_id = ? AND appointment_date > ?
                    AND status IN ('scheduled', 'confirmed')) AS upcoming_appointments,
                (SELECT COUNT(*) FROM allergies WHERE user_id = ? AND is_active = 1) AS active_allergies`,
			userID, userID, userID, slot(s.now()), userID)
		if err != nil {
			return fmt.Errorf("summary statistics: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.MedicalSummary{}, err
	}
	return summary, nil
}

func (s *Service) ensureSummary(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	now := s.now()
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO medical_history_summary (user_id, last_updated, created_at) VALUES (?, ?, ?)`,
		userID, now, now)
	if err != nil {
		return classify(err, "create summary", "medical summary")
	}
	return nil
}

// UpdateSummary writes only the fields present in u.
func (s *Service) UpdateSummary(ctx context.Context, userID int64, u domain.SummaryUpdate) (domain.MedicalSummary, error) {
	if u.Empty() {
		return domain.MedicalSummary{}, fmt.Errorf("%w: no valid fields to update", domain.ErrValidation)
	}
	if err := domain.Validate(u); err != nil {
		return domain.MedicalSummary{}, err
	}
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets, args = append(sets, col+" = ?"), append(args, v)
	}
	if u.BloodType != nil {
		set("blood_type", nullIfEmpty(*u.BloodType))
	}
	if u.EmergencyContactName != nil {
		set("emergency_contact_name", nullIfEmpty(*u.EmergencyContactName))
	}
	if u.EmergencyContactPhone != nil {
		set("emergency_contact_phone", nullIfEmpty(*u.EmergencyContactPhone))
	}
	if u.EmergencyContactRelation != nil {
		set("emergency_contact_relation", nullIfEmpty(*u.EmergencyContactRelation))
	}
	if u.PrimaryDoctorID != nil {
		set("primary_doctor_id", *u.PrimaryDoctorID)
	}
	if u.InsuranceProvider != nil {
		set("insurance_provider", nullIfEmpty(*u.InsuranceProvider))
	}
	if u.InsurancePolicyNumber != nil {
		set("insurance_policy_number", nullIfEmpty(*u.InsurancePolicyNumber))
	}
	set("last_updated", s.now())
	args = append(args, userID)

	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		if err := s.ensureSummary(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE medical_history_summary SET `+strings.Join(sets, ", ")+` WHERE user_id = ?`, args...); err != nil {
			return classify(err, "update summary", "medical summary")
		}
		return nil
	})
	if err != nil {
		return domain.MedicalSummary{}, err
	}
	return s.GetSummary(ctx, userID)
}
