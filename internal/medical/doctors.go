package medical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pharmacy/m/domain"
)

const doctorColumns = `d.id, d.name, d.email, d.phone, d.specialization, d.license_number, d.hospital_clinic,
    d.years_experience, d.consultation_fee, d.available_days, d.available_time_start, d.available_time_end,
    d.profile_image, d.bio, d.is_active, d.created_at, d.updated_at`

// ListDoctors returns active doctors by name. availableOnly keeps doctors
// that publish their available days.
func (s *Service) ListDoctors(ctx context.Context, specialization string, availableOnly bool) ([]domain.Doctor, error) {
	query := `SELECT ` + doctorColumns + ` FROM doctors d WHERE d.is_active = 1`
	var args []any
	if spec := strings.TrimSpace(specialization); spec != "" {
		query += ` AND d.specialization = ?`
		args = append(args, spec)
	}
	if availableOnly {
		query += ` AND d.available_days IS NOT NULL`
	}
	query += ` ORDER BY d.name`

	doctors := []domain.Doctor{}
	if err := s.db.SelectContext(ctx, &doctors, query, args...); err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// GetDoctor returns an active doctor.
func (s *Service) GetDoctor(ctx context.Context, id int64) (domain.Doctor, error) {
	var doctor domain.Doctor
	err := s.db.GetContext(ctx, &doctor, `SELECT `+doctorColumns+` FROM doctors d WHERE d.id = ? AND d.is_active = 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Doctor{}, fmt.Errorf("%w: doctor not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Doctor{}, fmt.Errorf("get doctor: %w", err)
	}
	return doctor, nil
}

// AdminListDoctors returns every doctor, active or not, with the number of
// appointments booked with each.
func (s *Service) AdminListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	doctors := []domain.Doctor{}
	err := s.db.SelectContext(ctx, &doctors, `SELECT `+doctorColumns+`,
            (SELECT COUNT(*) FROM appointments a WHERE a.doctor_id = d.id) AS appointment_count
        FROM doctors d
        ORDER BY d.name`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

func (s *Service) adminGetDoctor(ctx context.Context, id int64) (domain.Doctor, error) {
	var doctor domain.Doctor
	err := s.db.GetContext(ctx, &doctor, `SELECT `+doctorColumns+` FROM doctors d WHERE d.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Doctor{}, fmt.Errorf("%w: doctor not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Doctor{}, fmt.Errorf("get doctor: %w", err)
	}
	return doctor, nil
}

func (s *Service) CreateDoctor(ctx context.Context, in domain.DoctorInput) (domain.Doctor, error) {
	if err := domain.Validate(in); err != nil {
		return domain.Doctor{}, err
	}
	if in.ConsultationFee.IsNegative() {
		return domain.Doctor{}, fmt.Errorf("%w: consultation_fee must not be negative", domain.ErrValidation)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	var days domain.StringList
	if len(in.AvailableDays) > 0 {
		days = in.AvailableDays
	}

	now := s.now()
	var id int64
	err := s.db.QueryRowxContext(ctx, `INSERT INTO doctors (name, email, phone, specialization, license_number, hospital_clinic,
            years_experience, consultation_fee, available_days, available_time_start, available_time_end,
            profile_image, bio, is_active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		strings.TrimSpace(in.Name), strings.ToLower(strings.TrimSpace(in.Email)), nullIfEmpty(in.Phone),
		strings.TrimSpace(in.Specialization), strings.TrimSpace(in.LicenseNumber), strings.TrimSpace(in.HospitalClinic),
		in.YearsExperience, in.ConsultationFee.Round(2), days, nullIfEmpty(in.AvailableTimeStart), nullIfEmpty(in.AvailableTimeEnd),
		nullIfEmpty(in.ProfileImage), nullIfEmpty(in.Bio), active, now, now).Scan(&id)
	if err != nil {
		return domain.Doctor{}, classify(err, "create doctor", "a doctor with this email or license number")
	}
	return s.adminGetDoctor(ctx, id)
}

// UpdateDoctor writes only the fields present in u.
func (s *Service) UpdateDoctor(ctx context.Context, id int64, u domain.DoctorUpdate) (domain.Doctor, error) {
	if u.Empty() {
		return domain.Doctor{}, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	if err := domain.Validate(u); err != nil {
		return domain.Doctor{}, err
	}
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets, args = append(sets, col+" = ?"), append(args, v)
	}
	if u.Name != nil {
		set("name", strings.TrimSpace(*u.Name))
	}
	if u.Email != nil {
		set("email", strings.ToLower(strings.TrimSpace(*u.Email)))
	}
	if u.Phone != nil {
		set("phone", nullIfEmpty(*u.Phone))
	}
	if u.Specialization != nil {
		set("specialization", strings.TrimSpace(*u.Specialization))
	}
	if u.HospitalClinic != nil {
		set("hospital_clinic", strings.TrimSpace(*u.HospitalClinic))
	}
	if u.YearsExperience != nil {
		set("years_experience", *u.YearsExperience)
	}
	if u.ConsultationFee != nil {
		if u.ConsultationFee.IsNegative() {
			return domain.Doctor{}, fmt.Errorf("%w: consultation_fee must not be negative", domain.ErrValidation)
		}
		set("consultation_fee", u.ConsultationFee.Round(2))
	}
	if u.AvailableDays != nil {
		var days domain.StringList
		if len(*u.AvailableDays) > 0 {
			days = *u.AvailableDays
		}
		set("available_days", days)
	}
	if u.AvailableTimeStart != nil {
		set("available_time_start", nullIfEmpty(*u.AvailableTimeStart))
	}
	if u.AvailableTimeEnd != nil {
		set("available_time_end", nullIfEmpty(*u.AvailableTimeEnd))
	}
	if u.Bio != nil {
		set("bio", nullIfEmpty(*u.Bio))
	}
	if u.IsActive != nil {
		set("is_active", *u.IsActive)
	}
	set("updated_at", s.now())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE doctors SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return domain.Doctor{}, classify(err, "update doctor", "a doctor with this email")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Doctor{}, fmt.Errorf("%w: doctor not found", domain.ErrNotFound)
	}
	return s.adminGetDoctor(ctx, id)
}

// DeleteDoctor removes a doctor together with their reports, prescriptions
// and appointments.
func (s *Service) DeleteDoctor(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM doctors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete doctor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: doctor not found", domain.ErrNotFound)
	}
	return nil
}
