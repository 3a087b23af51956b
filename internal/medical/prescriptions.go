package medical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

const prescriptionColumns = `mp.id, mp.user_id, mp.doctor_id, mp.medical_report_id, mp.prescription_number, mp.diagnosis,
    mp.instructions, mp.notes, mp.prescribed_date, mp.expiry_date, mp.is_active, mp.status, mp.created_at, mp.updated_at,
    d.name AS doctor_name, d.specialization`

// ListPrescriptions returns the user's prescriptions, most recently
// prescribed first, with the number of drugs on each.
func (s *Service) ListPrescriptions(ctx context.Context, userID int64, status string, p Page) ([]domain.MedicalPrescription, error) {
	page, err := p.normalize()
	if err != nil {
		return nil, err
	}
	if err := oneOf("status", status, "active", "completed", "expired", "cancelled"); err != nil {
		return nil, err
	}
	query := `SELECT ` + prescriptionColumns + `,
            (SELECT COUNT(*) FROM prescription_drugs pd WHERE pd.prescription_id = mp.id) AS drug_count
        FROM medical_prescriptions mp
        LEFT JOIN doctors d ON d.id = mp.doctor_id
        WHERE mp.user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND mp.status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY mp.prescribed_date DESC, mp.id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	list := []domain.MedicalPrescription{}
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	return list, nil
}

// GetPrescription returns one of the user's prescriptions with its drugs.
func (s *Service) GetPrescription(ctx context.Context, userID, id int64) (domain.MedicalPrescription, error) {
	var p domain.MedicalPrescription
	err := s.db.GetContext(ctx, &p, `SELECT `+prescriptionColumns+`
        FROM medical_prescriptions mp
        LEFT JOIN doctors d ON d.id = mp.doctor_id
        WHERE mp.id = ? AND mp.user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MedicalPrescription{}, fmt.Errorf("%w: prescription not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.MedicalPrescription{}, fmt.Errorf("get prescription: %w", err)
	}
	if p.Drugs, err = prescriptionDrugs(ctx, s.db, id); err != nil {
		return domain.MedicalPrescription{}, err
	}
	return p, nil
}

func prescriptionDrugs(ctx context.Context, q sqlx.QueryerContext, id int64) ([]domain.PrescriptionDrug, error) {
	drugs := []domain.PrescriptionDrug{}
	err := sqlx.SelectContext(ctx, q, &drugs, `SELECT pd.id, pd.prescription_id, pd.drug_id, pd.dosage, pd.frequency,
            pd.duration, pd.instructions, pd.quantity, pd.created_at, COALESCE(d.name, '') AS drug_name
        FROM prescription_drugs pd
        LEFT JOIN drugs d ON d.id = pd.drug_id
        WHERE pd.prescription_id = ?
        ORDER BY pd.id`, id)
	if err != nil {
		return nil, fmt.Errorf("load prescription drugs: %w", err)
	}
	return drugs, nil
}

// CreatePrescription issues a prescription and its drug lines in one
// transaction.
func (s *Service) CreatePrescription(ctx context.Context, in domain.PrescriptionInput) (domain.MedicalPrescription, error) {
	if err := domain.Validate(in); err != nil {
		return domain.MedicalPrescription{}, err
	}
	prescribed, err := domain.ParseDate(in.PrescribedDate)
	if err != nil {
		return domain.MedicalPrescription{}, err
	}
	expiry, err := optionalDate(in.ExpiryDate)
	if err != nil {
		return domain.MedicalPrescription{}, err
	}
	if expiry != nil && *expiry < prescribed {
		return domain.MedicalPrescription{}, fmt.Errorf("%w: expiry_date must not precede prescribed_date", domain.ErrValidation)
	}

	var id int64
	number := prescriptionNumber(prescribed)
	err = database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		ok, err := exists(ctx, tx, `SELECT 1 FROM doctors WHERE id = ?`, in.DoctorID)
		if err != nil {
			return fmt.Errorf("check doctor: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: doctor not found", domain.ErrNotFound)
		}
		if in.MedicalReportID != nil {
			ok, err := exists(ctx, tx, `SELECT 1 FROM medical_reports WHERE id = ? AND user_id = ?`, *in.MedicalReportID, in.UserID)
			if err != nil {
				return fmt.Errorf("check report: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: medical report not found", domain.ErrNotFound)
			}
		}

		now := s.now()
		err = tx.QueryRowxContext(ctx, `INSERT INTO medical_prescriptions (user_id, doctor_id, medical_report_id, prescription_number,
                diagnosis, instructions, notes, prescribed_date, expiry_date, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			in.UserID, in.DoctorID, in.MedicalReportID, number, nullIfEmpty(in.Diagnosis), nullIfEmpty(in.Instructions),
			nullIfEmpty(in.Notes), prescribed, expiry, now, now).Scan(&id)
		if err != nil {
			return classify(err, "create prescription", "prescription")
		}
		for _, d := range in.Drugs {
			_, err := tx.ExecContext(ctx, `INSERT INTO prescription_drugs (prescription_id, drug_id, dosage, frequency, duration,
                    instructions, quantity, created_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				id, d.DrugID, strings.TrimSpace(d.Dosage), strings.TrimSpace(d.Frequency), strings.TrimSpace(d.Duration),
				nullIfEmpty(d.Instructions), d.Quantity, now)
			if err != nil {
				if database.IsForeignKeyViolation(err) {
					return fmt.Errorf("%w: drug with ID %d not found", domain.ErrNotFound, d.DrugID)
				}
				return classify(err, "add prescription drug", "prescription drug")
			}
		}
		return nil
	})
	if err != nil {
		return domain.MedicalPrescription{}, err
	}
	s.logger.Info("prescription issued", zap.Int64("prescription_id", id), zap.Int64("user_id", in.UserID), zap.String("number", number))
	return s.GetPrescription(ctx, in.UserID, id)
}

// prescriptionNumber looks like RX-20240501-1A2B3C4D.
func prescriptionNumber(date string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "RX-" + strings.ReplaceAll(date, "-", "") + "-" + suffix
}
