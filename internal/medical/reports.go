package medical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pharmacy/m/domain"
	"pharmacy/m/internal/database"
	"pharmacy/m/internal/uploads"
)

// MaxAttachments is the number of files one request may attach to a report.
const MaxAttachments = 5

const reportColumns = `mr.id, mr.user_id, mr.doctor_id, mr.report_type, mr.title, mr.description, mr.diagnosis,
    mr.symptoms, mr.treatment_plan, mr.notes, mr.report_date, mr.follow_up_date, mr.severity_level,
    mr.status, mr.attachments, mr.created_at, mr.updated_at,
    d.name AS doctor_name, d.specialization`

type ReportFilter struct {
	Type   string
	Status string
	Page
}

// File is one uploaded attachment.
type File struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// ListReports returns the user's reports, newest report date first.
func (s *Service) ListReports(ctx context.Context, userID int64, f ReportFilter) ([]domain.MedicalReport, error) {
	page, err := f.Page.normalize()
	if err != nil {
		return nil, err
	}
	if err := oneOf("report_type", f.Type, domain.ReportConsultation, domain.ReportLabResult, domain.ReportImaging, domain.ReportDischargeSummary); err != nil {
		return nil, err
	}
	if err := oneOf("status", f.Status, "active", "resolved", "chronic"); err != nil {
		return nil, err
	}

	query := `SELECT ` + reportColumns + `
        FROM medical_reports mr
        LEFT JOIN doctors d ON d.id = mr.doctor_id
        WHERE mr.user_id = ?`
	args := []any{userID}
	if f.Type != "" {
		query += ` AND mr.report_type = ?`
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += ` AND mr.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY mr.report_date DESC, mr.id DESC LIMIT ? OFFSET ?`
	args = append(args, page.Limit, page.Offset)

	reports := []domain.MedicalReport{}
	if err := s.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// AdminListReports returns every report with patient and doctor names.
func (s *Service) AdminListReports(ctx context.Context) ([]domain.MedicalReport, error) {
	reports := []domain.MedicalReport{}
	err := s.db.SelectContext(ctx, &reports, `SELECT `+reportColumns+`, u.name AS patient_name, u.email AS patient_email
        FROM medical_reports mr
        LEFT JOIN users u ON u.id = mr.user_id
        LEFT JOIN doctors d ON d.id = mr.doctor_id
        ORDER BY mr.report_date DESC, mr.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func (s *Service) getReport(ctx context.Context, q sqlx.QueryerContext, id int64) (domain.MedicalReport, error) {
	var report domain.MedicalReport
	err := sqlx.GetContext(ctx, q, &report, `SELECT `+reportColumns+`
        FROM medical_reports mr
        LEFT JOIN doctors d ON d.id = mr.doctor_id
        WHERE mr.id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MedicalReport{}, fmt.Errorf("%w: medical report not found", domain.ErrNotFound)
	}
	if err != nil {
		return domain.MedicalReport{}, fmt.Errorf("get report: %w", err)
	}
	return report, nil
}

// CreateReport records a report for in.UserID. The doctor must exist.
func (s *Service) CreateReport(ctx context.Context, in domain.ReportInput) (domain.MedicalReport, error) {
	if err := domain.Validate(in); err != nil {
		return domain.MedicalReport{}, err
	}
	if in.UserID < 1 {
		return domain.MedicalReport{}, fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	reportDate, err := domain.ParseDate(in.ReportDate)
	if err != nil {
		return domain.MedicalReport{}, err
	}
	followUp, err := optionalDate(in.FollowUpDate)
	if err != nil {
		return domain.MedicalReport{}, err
	}
	ok, err := exists(ctx, s.db, `SELECT 1 FROM doctors WHERE id = ?`, in.DoctorID)
	if err != nil {
		return domain.MedicalReport{}, fmt.Errorf("check doctor: %w", err)
	}
	if !ok {
		return domain.MedicalReport{}, fmt.Errorf("%w: doctor not found", domain.ErrNotFound)
	}
	var symptoms domain.StringList
	if len(in.Symptoms) > 0 {
		symptoms = in.Symptoms
	}

	now := s.now()
	var id int64
	err = s.db.QueryRowxContext(ctx, `INSERT INTO medical_reports (user_id, doctor_id, report_type, title, description, diagnosis,
            symptoms, treatment_plan, notes, report_date, follow_up_date, severity_level, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		in.UserID, in.DoctorID, in.ReportType, strings.TrimSpace(in.Title), nullIfEmpty(in.Description), nullIfEmpty(in.Diagnosis),
		symptoms, nullIfEmpty(in.TreatmentPlan), nullIfEmpty(in.Notes), reportDate, followUp, in.SeverityLevel, in.Status,
		now, now).Scan(&id)
	if err != nil {
		return domain.MedicalReport{}, classify(err, "create report", "medical report")
	}
	return s.getReport(ctx, s.db, id)
}

// AddReportAttachments stores files and appends their URLs to one of the
// user's reports. Either every file is attached or none is kept.
func (s *Service) AddReportAttachments(ctx context.Context, userID, reportID int64, files []File) (domain.MedicalReport, error) {
	if len(files) == 0 {
		return domain.MedicalReport{}, fmt.Errorf("%w: no files uploaded", domain.ErrInvalidFile)
	}
	if len(files) > MaxAttachments {
		return domain.MedicalReport{}, fmt.Errorf("%w: at most %d files per upload", domain.ErrInvalidFile, MaxAttachments)
	}
	owned, err := exists(ctx, s.db, `SELECT 1 FROM medical_reports WHERE id = ? AND user_id = ?`, reportID, userID)
	if err != nil {
		return domain.MedicalReport{}, fmt.Errorf("check report: %w", err)
	}
	if !owned {
		return domain.MedicalReport{}, fmt.Errorf("%w: medical report not found", domain.ErrNotFound)
	}

	urls := make([]string, 0, len(files))
	for _, f := range files {
		url, err := s.store.Save(uploads.MedicalAttachment, f.Name, f.Size, f.Reader)
		if err != nil {
			s.discard(urls)
			return domain.MedicalReport{}, err
		}
		urls = append(urls, url)
	}

	var report domain.MedicalReport
	err = database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		var current domain.StringList
		if err := tx.GetContext(ctx, &current, `SELECT attachments FROM medical_reports WHERE id = ? AND user_id = ?`, reportID, userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: medical report not found", domain.ErrNotFound)
			}
			return fmt.Errorf("load attachments: %w", err)
		}
		next := append(current, urls...)
		if _, err := tx.ExecContext(ctx, `UPDATE medical_reports SET attachments = ?, updated_at = ? WHERE id = ?`, next, s.now(), reportID); err != nil {
			return fmt.Errorf("save attachments: %w", err)
		}
		var err error
		report, err = s.getReport(ctx, tx, reportID)
		return err
	})
	if err != nil {
		s.discard(urls)
		return domain.MedicalReport{}, err
	}
	return report, nil
}

// UpdateReport writes only the fields present in u.
func (s *Service) UpdateReport(ctx context.Context, id int64, u domain.ReportUpdate) (domain.MedicalReport, error) {
	if u.Empty() {
		return domain.MedicalReport{}, fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	}
	if err := domain.Validate(u); err != nil {
		return domain.MedicalReport{}, err
	}
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets, args = append(sets, col+" = ?"), append(args, v)
	}
	if u.DoctorID != nil {
		set("doctor_id", *u.DoctorID)
	}
	if u.ReportType != nil {
		set("report_type", *u.ReportType)
	}
	if u.Title != nil {
		set("title", strings.TrimSpace(*u.Title))
	}
	if u.Description != nil {
		set("description", nullIfEmpty(*u.Description))
	}
	if u.Diagnosis != nil {
		set("diagnosis", nullIfEmpty(*u.Diagnosis))
	}
	if u.Symptoms != nil {
		var symptoms domain.StringList
		if len(*u.Symptoms) > 0 {
			symptoms = *u.Symptoms
		}
		set("symptoms", symptoms)
	}
	if u.TreatmentPlan != nil {
		set("treatment_plan", nullIfEmpty(*u.TreatmentPlan))
	}
	if u.Notes != nil {
		set("notes", nullIfEmpty(*u.Notes))
	}
	if u.ReportDate != nil {
		d, err := domain.ParseDate(*u.ReportDate)
		if err != nil {
			return domain.MedicalReport{}, err
		}
		set("report_date", d)
	}
	if u.FollowUpDate != nil {
		d, err := optionalDate(*u.FollowUpDate)
		if err != nil {
			return domain.MedicalReport{}, err
		}
		set("follow_up_date", d)
	}
	if u.SeverityLevel != nil {
		set("severity_level", *u.SeverityLevel)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	set("updated_at", s.now())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE medical_reports SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return domain.MedicalReport{}, classify(err, "update report", "medical report")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.MedicalReport{}, fmt.Errorf("%w: medical report not found", domain.ErrNotFound)
	}
	return s.getReport(ctx, s.db, id)
}

// DeleteReport removes a report and its attached files.
func (s *Service) DeleteReport(ctx context.Context, id int64) error {
	var attachments domain.StringList
	err := database.WithTx(ctx, s.db, s.retries, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &attachments, `SELECT attachments FROM medical_reports WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: medical report not found", domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load report: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM medical_reports WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete report: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.discard(attachments)
	return nil
}

func (s *Service) discard(urls []string) {
	for _, url := range urls {
		if err := s.store.Remove(url); err != nil {
			s.logger.Warn("remove attachment", zap.String("url", url), zap.Error(err))
		}
	}
}
