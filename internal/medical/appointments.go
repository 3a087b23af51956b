package medical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
)

const defaultDuration = 30

const appointmentColumns = `a.id, a.user_id, a.doctor_id, a.appointment_type, a.purpose, a.appointment_date,
    a.duration_minutes, a.status, a.consultation_fee, a.payment_status, a.notes, a.symptoms, a.reminder_sent,
    a.created_at, a.updated_at, d.name AS doctor_name, d.specialization, d.hospital_clinic`

type AppointmentFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Page
}

// ListAppointments returns the user's appointments, latest first.
func (s *Service) ListAppointments(ctx context.Context, userID int64, f AppointmentFilter) ([]domain.Appointment, error) {
	page, err := f.Page.normalize()
	if err != nil {
		return nil, err
	}
	err = oneOf("status", f.Status, domain.AppointmentScheduled, domain.AppointmentConfirmed,
		domain.AppointmentCompleted, domain.AppointmentCancelled, domain.AppointmentNoShow)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + appointmentColumns + `
        FROM appointments a
        LEFT JOIN doctors d ON d.id = a.doctor_id
        WHERE a.user_id = ?`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, f.Status)
	}
	if f.From != nil {
		query += ` AND a.appointment_date >= ?`
		args = append(args, slot(*f.From))
	}
	if f.To != nil {
		query += ` AND a.appointment_date <= ?`
		args = append(args, slot(*f.To))
	}
	query += ` ORDER BY a.appointment_date DESC, a.id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	list := []domain.Appointment{}
	if err := s.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return list, nil
}

// slot normalizes an appointment time so equal instants compare equal in
// storage.
func slot(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// BookAppointment books the user with an active doctor. A doctor holds at
// most one live appointment per start time.
func (s *Service) BookAppointment(ctx context.Context, userID int64, in domain.AppointmentInput) (domain.Appointment, error) {
	if err := domain.Validate(in); err != nil {
		return domain.Appointment{}, err
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = defaultDuration
	}
	when := slot(in.AppointmentDate)
	var symptoms domain.StringList
	if len(in.Symptoms) > 0 {
		symptoms = in.Symptoms
	}

	var id int64
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		var fee decimal.Decimal
		err := tx.GetContext(ctx, &fee, `SELECT consultation_fee FROM doctors WHERE id = ? AND is_active = 1`, in.DoctorID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: doctor not found or inactive", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load doctor: %w", err)
		}

		taken, err := exists(ctx, tx, `SELECT 1 FROM appointments
            WHERE doctor_id = ? AND appointment_date = ? AND status NOT IN ('cancelled', 'no_show')`, in.DoctorID, when)
		if err != nil {
			return fmt.Errorf("check schedule: %w", err)
		}
		if taken {
			return errSlotTaken
		}

		now := s.now()
		err = tx.QueryRowxContext(ctx, `INSERT INTO appointments (user_id, doctor_id, appointment_type, purpose, appointment_date,
                duration_minutes, consultation_fee, symptoms, notes, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			userID, in.DoctorID, in.AppointmentType, strings.TrimSpace(in.Purpose), when,
			in.DurationMinutes, fee, symptoms, nullIfEmpty(in.Notes), now, now).Scan(&id)
		if database.IsUniqueViolation(err) {
			return errSlotTaken
		}
		if err != nil {
			return classify(err, "book appointment", "appointment")
		}
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	s.logger.Info("appointment booked",
		zap.Int64("appointment_id", id),
		zap.Int64("doctor_id", in.DoctorID),
		zap.Time("at", when))
	return s.getAppointment(ctx, s.db, userID, id)
}

var errSlotTaken = fmt.Errorf("%w: doctor not available at this time", domain.ErrConflict)

// CancelAppointment cancels one of the user's scheduled or confirmed
// appointments and frees the doctor's slot.
func (s *Service) CancelAppointment(ctx context.Context, userID, id int64) (domain.Appointment, error) {
	var appt domain.Appointment
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		var status string
		err := tx.GetContext(ctx, &status, `SELECT status FROM appointments WHERE id = ? AND user_id = ?`, id, userID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: appointment not found", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if status != domain.AppointmentScheduled && status != domain.AppointmentConfirmed {
			return fmt.Errorf("%w: cannot cancel a %s appointment", domain.ErrInvalidTransition, status)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE appointments SET status = ?, updated_at = ? WHERE id = ?`,
			domain.AppointmentCancelled, s.now(), id); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		appt, err = s.getAppointment(ctx, tx, userID, id)
		return err
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) getAppointment(ctx context.Context, q sqlx.QueryerContext, userID, id int64) (domain.Appointment, error) {
	var appt domain.Appointment
	err := sqlx.GetContext(ctx, q, &appt, `SELECT `+appointmentColumns+`
        FROM appointments a
        LEFT JOIN doctors d ON d.id = a.doctor_id
        WHERE a.id = ? AND a.user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, fmt.Errorf("%w: appointment not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}
