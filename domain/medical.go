package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StringList is a JSON array stored in a TEXT column.
type StringList []string

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("string list: unsupported source %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l StringList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// RawJSON is a free-form JSON document stored in a TEXT column.
type RawJSON json.RawMessage

func (r *RawJSON) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case string:
		*r = RawJSON(v)
	case []byte:
		*r = append(RawJSON(nil), v...)
	default:
		return fmt.Errorf("raw json: unsupported source %T", src)
	}
	return nil
}

func (r RawJSON) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return string(r), nil
}

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawJSON) UnmarshalJSON(b []byte) error {
	*r = append((*r)[0:0], b...)
	return nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the
// calendar date in YYYY-MM-DD form.
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006-01-02"), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("%w: %q is not a valid date", ErrValidation, s)
}

type Doctor struct {
	ID                 int64           `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	Email              string          `db:"email" json:"email"`
	Phone              *string         `db:"phone" json:"phone"`
	Specialization     string          `db:"specialization" json:"specialization"`
	LicenseNumber      string          `db:"license_number" json:"license_number"`
	HospitalClinic     string          `db:"hospital_clinic" json:"hospital_clinic"`
	YearsExperience    int64           `db:"years_experience" json:"years_experience"`
	ConsultationFee    decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
	AvailableDays      StringList      `db:"available_days" json:"available_days"`
	AvailableTimeStart *string         `db:"available_time_start" json:"available_time_start"`
	AvailableTimeEnd   *string         `db:"available_time_end" json:"available_time_end"`
	ProfileImage       *string         `db:"profile_image" json:"profile_image"`
	Bio                *string         `db:"bio" json:"bio"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	AppointmentCount   *int64          `db:"appointment_count" json:"appointment_count,omitempty"`
}

type DoctorInput struct {
	Name               string          `json:"name" validate:"required,max=100"`
	Email              string          `json:"email" validate:"required,email"`
	Phone              string          `json:"phone" validate:"max=20"`
	Specialization     string          `json:"specialization" validate:"required,max=100"`
	LicenseNumber      string          `json:"license_number" validate:"required,max=50"`
	HospitalClinic     string          `json:"hospital_clinic" validate:"required,max=200"`
	YearsExperience    int64           `json:"years_experience" validate:"gte=0"`
	ConsultationFee    decimal.Decimal `json:"consultation_fee"`
	AvailableDays      []string        `json:"available_days"`
	AvailableTimeStart string          `json:"available_time_start" validate:"omitempty,datetime=15:04"`
	AvailableTimeEnd   string          `json:"available_time_end" validate:"omitempty,datetime=15:04"`
	ProfileImage       string          `json:"profile_image" validate:"omitempty,url"`
	Bio                string          `json:"bio" validate:"max=2000"`
	IsActive           *bool           `json:"is_active"`
}

type DoctorUpdate struct {
	Name               *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Email              *string          `json:"email" validate:"omitempty,email"`
	Phone              *string          `json:"phone" validate:"omitempty,max=20"`
	Specialization     *string          `json:"specialization" validate:"omitempty,min=1,max=100"`
	HospitalClinic     *string          `json:"hospital_clinic" validate:"omitempty,min=1,max=200"`
	YearsExperience    *int64           `json:"years_experience" validate:"omitempty,gte=0"`
	ConsultationFee    *decimal.Decimal `json:"consultation_fee"`
	AvailableDays      *[]string        `json:"available_days"`
	AvailableTimeStart *string          `json:"available_time_start" validate:"omitempty,datetime=15:04"`
	AvailableTimeEnd   *string          `json:"available_time_end" validate:"omitempty,datetime=15:04"`
	Bio                *string          `json:"bio" validate:"omitempty,max=2000"`
	IsActive           *bool            `json:"is_active"`
}

func (u DoctorUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.Phone == nil && u.Specialization == nil &&
		u.HospitalClinic == nil && u.YearsExperience == nil && u.ConsultationFee == nil &&
		u.AvailableDays == nil && u.AvailableTimeStart == nil && u.AvailableTimeEnd == nil &&
		u.Bio == nil && u.IsActive == nil
}

const (
	ReportConsultation     = "consultation"
	ReportLabResult        = "lab_result"
	ReportImaging          = "imaging"
	ReportDischargeSummary = "discharge_summary"
)

type MedicalReport struct {
	ID            int64      `db:"id" json:"id"`
	UserID        int64      `db:"user_id" json:"user_id"`
	DoctorID      int64      `db:"doctor_id" json:"doctor_id"`
	ReportType    string     `db:"report_type" json:"report_type"`
	Title         string     `db:"title" json:"title"`
	Description   *string    `db:"description" json:"description"`
	Diagnosis     *string    `db:"diagnosis" json:"diagnosis"`
	Symptoms      StringList `db:"symptoms" json:"symptoms"`
	TreatmentPlan *string    `db:"treatment_plan" json:"treatment_plan"`
	Notes         *string    `db:"notes" json:"notes"`
	ReportDate    string     `db:"report_date" json:"report_date"`
	FollowUpDate  *string    `db:"follow_up_date" json:"follow_up_date"`
	SeverityLevel string     `db:"severity_level" json:"severity_level"`
	Status        string     `db:"status" json:"status"`
	Attachments   StringList `db:"attachments" json:"attachments"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`

	DoctorName     *string `db:"doctor_name" json:"doctor_name,omitempty"`
	Specialization *string `db:"specialization" json:"specialization,omitempty"`
	PatientName    *string `db:"patient_name" json:"patient_name,omitempty"`
	PatientEmail   *string `db:"patient_email" json:"patient_email,omitempty"`
}

type ReportInput struct {
	UserID        int64    `json:"user_id"`
	DoctorID      int64    `json:"doctor_id" validate:"required,gte=1"`
	ReportType    string   `json:"report_type" validate:"required,oneof=consultation lab_result imaging discharge_summary"`
	Title         string   `json:"title" validate:"required,min=2,max=200"`
	Description   string   `json:"description" validate:"max=1000"`
	Diagnosis     string   `json:"diagnosis" validate:"max=500"`
	Symptoms      []string `json:"symptoms"`
	TreatmentPlan string   `json:"treatment_plan" validate:"max=1000"`
	Notes         string   `json:"notes" validate:"max=1000"`
	ReportDate    string   `json:"report_date" validate:"required"`
	FollowUpDate  string   `json:"follow_up_date"`
	SeverityLevel string   `json:"severity_level" validate:"required,oneof=mild moderate severe critical"`
	Status        string   `json:"status" validate:"required,oneof=active resolved chronic"`
}

type ReportUpdate struct {
	DoctorID      *int64    `json:"doctor_id" validate:"omitempty,gte=1"`
	ReportType    *string   `json:"report_type" validate:"omitempty,oneof=consultation lab_result imaging discharge_summary"`
	Title         *string   `json:"title" validate:"omitempty,min=2,max=200"`
	Description   *string   `json:"description" validate:"omitempty,max=1000"`
	Diagnosis     *string   `json:"diagnosis" validate:"omitempty,max=500"`
	Symptoms      *[]string `json:"symptoms"`
	TreatmentPlan *string   `json:"treatment_plan" validate:"omitempty,max=1000"`
	Notes         *string   `json:"notes" validate:"omitempty,max=1000"`
	ReportDate    *string   `json:"report_date"`
	FollowUpDate  *string   `json:"follow_up_date"`
	SeverityLevel *string   `json:"severity_level" validate:"omitempty,oneof=mild moderate severe critical"`
	Status        *string   `json:"status" validate:"omitempty,oneof=active resolved chronic"`
}

func (u ReportUpdate) Empty() bool {
	return u.DoctorID == nil && u.ReportType == nil && u.Title == nil && u.Description == nil &&
		u.Diagnosis == nil && u.Symptoms == nil && u.TreatmentPlan == nil && u.Notes == nil &&
		u.ReportDate == nil && u.FollowUpDate == nil && u.SeverityLevel == nil && u.Status == nil
}

type MedicalPrescription struct {
	ID                 int64              `db:"id" json:"id"`
	UserID             int64              `db:"user_id" json:"user_id"`
	DoctorID           int64              `db:"doctor_id" json:"doctor_id"`
	MedicalReportID    *int64             `db:"medical_report_id" json:"medical_report_id"`
	PrescriptionNumber string             `db:"prescription_number" json:"prescription_number"`
	Diagnosis          *string            `db:"diagnosis" json:"diagnosis"`
	Instructions       *string            `db:"instructions" json:"instructions"`
	Notes              *string            `db:"notes" json:"notes"`
	PrescribedDate     string             `db:"prescribed_date" json:"prescribed_date"`
	ExpiryDate         *string            `db:"expiry_date" json:"expiry_date"`
	IsActive           bool               `db:"is_active" json:"is_active"`
	Status             string             `db:"status" json:"status"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
	DoctorName         *string            `db:"doctor_name" json:"doctor_name,omitempty"`
	Specialization     *string            `db:"specialization" json:"specialization,omitempty"`
	DrugCount          *int64             `db:"drug_count" json:"drug_count,omitempty"`
	Drugs              []PrescriptionDrug `db:"-" json:"drugs,omitempty"`
}

type PrescriptionDrug struct {
	ID             int64     `db:"id" json:"id"`
	PrescriptionID int64     `db:"prescription_id" json:"prescription_id"`
	DrugID         int64     `db:"drug_id" json:"drug_id"`
	Dosage         string    `db:"dosage" json:"dosage"`
	Frequency      string    `db:"frequency" json:"frequency"`
	Duration       string    `db:"duration" json:"duration"`
	Instructions   *string   `db:"instructions" json:"instructions"`
	Quantity       int64     `db:"quantity" json:"quantity"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	DrugName       string    `db:"drug_name" json:"drug_name"`
}

type PrescriptionInput struct {
	UserID          int64                   `json:"user_id" validate:"required,gte=1"`
	DoctorID        int64                   `json:"doctor_id" validate:"required,gte=1"`
	MedicalReportID *int64                  `json:"medical_report_id"`
	Diagnosis       string                  `json:"diagnosis" validate:"max=500"`
	Instructions    string                  `json:"instructions" validate:"max=1000"`
	Notes           string                  `json:"notes" validate:"max=1000"`
	PrescribedDate  string                  `json:"prescribed_date" validate:"required"`
	ExpiryDate      string                  `json:"expiry_date"`
	Drugs           []PrescriptionDrugInput `json:"drugs" validate:"required,min=1,dive"`
}

type PrescriptionDrugInput struct {
	DrugID       int64  `json:"drug_id" validate:"required,gte=1"`
	Dosage       string `json:"dosage" validate:"required,max=50"`
	Frequency    string `json:"frequency" validate:"required,max=100"`
	Duration     string `json:"duration" validate:"required,max=50"`
	Instructions string `json:"instructions" validate:"max=500"`
	Quantity     int64  `json:"quantity" validate:"required,gte=1"`
}

const (
	AppointmentScheduled = "scheduled"
	AppointmentConfirmed = "confirmed"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)

type Appointment struct {
	ID              int64           `db:"id" json:"id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	DoctorID        int64           `db:"doctor_id" json:"doctor_id"`
	AppointmentType string          `db:"appointment_type" json:"appointment_type"`
	Purpose         string          `db:"purpose" json:"purpose"`
	AppointmentDate time.Time       `db:"appointment_date" json:"appointment_date"`
	DurationMinutes int64           `db:"duration_minutes" json:"duration_minutes"`
	Status          string          `db:"status" json:"status"`
	ConsultationFee decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
	PaymentStatus   string          `db:"payment_status" json:"payment_status"`
	Notes           *string         `db:"notes" json:"notes"`
	Symptoms        StringList      `db:"symptoms" json:"symptoms"`
	ReminderSent    bool            `db:"reminder_sent" json:"reminder_sent"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	DoctorName      *string         `db:"doctor_name" json:"doctor_name,omitempty"`
	Specialization  *string         `db:"specialization" json:"specialization,omitempty"`
	HospitalClinic  *string         `db:"hospital_clinic" json:"hospital_clinic,omitempty"`
}

type AppointmentInput struct {
	DoctorID        int64     `json:"doctor_id" validate:"required,gte=1"`
	AppointmentType string    `json:"appointment_type" validate:"required,oneof=consultation follow_up emergency"`
	Purpose         string    `json:"purpose" validate:"required,min=5,max=500"`
	AppointmentDate time.Time `json:"appointment_date" validate:"required"`
	DurationMinutes int64     `json:"duration_minutes" validate:"omitempty,min=15,max=180"`
	Symptoms        []string  `json:"symptoms"`
	Notes           string    `json:"notes" validate:"max=1000"`
}

type Allergy struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	Allergen      string    `db:"allergen" json:"allergen"`
	AllergyType   string    `db:"allergy_type" json:"allergy_type"`
	Severity      string    `db:"severity" json:"severity"`
	Reaction      *string   `db:"reaction" json:"reaction"`
	Notes         *string   `db:"notes" json:"notes"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	DiagnosedDate *string   `db:"diagnosed_date" json:"diagnosed_date"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

type AllergyInput struct {
	Allergen      string `json:"allergen" validate:"required,min=2,max=100"`
	AllergyType   string `json:"allergy_type" validate:"required,oneof=drug food environmental other"`
	Severity      string `json:"severity" validate:"required,oneof=mild moderate severe"`
	Reaction      string `json:"reaction" validate:"max=500"`
	Notes         string `json:"notes" validate:"max=1000"`
	DiagnosedDate string `json:"diagnosed_date"`
}

type ChronicCondition struct {
	ID               int64      `db:"id" json:"id"`
	UserID           int64      `db:"user_id" json:"user_id"`
	ConditionName    string     `db:"condition_name" json:"condition_name"`
	ICD10Code        *string    `db:"icd10_code" json:"icd10_code"`
	DiagnosedDate    string     `db:"diagnosed_date" json:"diagnosed_date"`
	TreatingDoctorID *int64     `db:"treating_doctor_id" json:"treating_doctor_id"`
	Severity         string     `db:"severity" json:"severity"`
	Status           string     `db:"status" json:"status"`
	Medications      StringList `db:"medications" json:"medications"`
	Notes            *string    `db:"notes" json:"notes"`
	LastCheckupDate  *string    `db:"last_checkup_date" json:"last_checkup_date"`
	NextCheckupDate  *string    `db:"next_checkup_date" json:"next_checkup_date"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	DoctorName       *string    `db:"doctor_name" json:"doctor_name,omitempty"`
}

type ConditionInput struct {
	ConditionName    string   `json:"condition_name" validate:"required,min=2,max=200"`
	ICD10Code        string   `json:"icd10_code" validate:"max=20"`
	DiagnosedDate    string   `json:"diagnosed_date" validate:"required"`
	TreatingDoctorID *int64   `json:"treating_doctor_id" validate:"omitempty,gte=1"`
	Severity         string   `json:"severity" validate:"omitempty,oneof=mild moderate severe"`
	Status           string   `json:"status" validate:"omitempty,oneof=active controlled resolved"`
	Medications      []string `json:"medications"`
	Notes            string   `json:"notes" validate:"max=1000"`
	NextCheckupDate  string   `json:"next_checkup_date"`
}

type VitalSign struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	RecordedBy    *int64    `db:"recorded_by" json:"recorded_by"`
	RecordType    string    `db:"record_type" json:"record_type"`
	Value         RawJSON   `db:"value" json:"value"`
	Unit          string    `db:"unit" json:"unit"`
	RecordedDate  time.Time `db:"recorded_date" json:"recorded_date"`
	Notes         *string   `db:"notes" json:"notes"`
	AppointmentID *int64    `db:"appointment_id" json:"appointment_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type VitalInput struct {
	RecordType    string     `json:"record_type" validate:"required,oneof=blood_pressure heart_rate temperature weight height blood_sugar"`
	Value         RawJSON    `json:"value" validate:"required"`
	Unit          string     `json:"unit" validate:"required,max=20"`
	RecordedDate  *time.Time `json:"recorded_date"`
	Notes         string     `json:"notes" validate:"max=1000"`
	AppointmentID *int64     `json:"appointment_id" validate:"omitempty,gte=1"`
}

type MedicalSummary struct {
	ID                       int64        `db:"id" json:"id"`
	UserID                   int64        `db:"user_id" json:"user_id"`
	BloodType                *string      `db:"blood_type" json:"blood_type"`
	EmergencyContactName     *string      `db:"emergency_contact_name" json:"emergency_contact_name"`
	EmergencyContactPhone    *string      `db:"emergency_contact_phone" json:"emergency_contact_phone"`
	EmergencyContactRelation *string      `db:"emergency_contact_relation" json:"emergency_contact_relation"`
	PrimaryDoctorID          *int64       `db:"primary_doctor_id" json:"primary_doctor_id"`
	InsuranceProvider        *string      `db:"insurance_provider" json:"insurance_provider"`
	InsurancePolicyNumber    *string      `db:"insurance_policy_number" json:"insurance_policy_number"`
	KnownAllergies           StringList   `db:"known_allergies" json:"known_allergies"`
	ChronicMedications       StringList   `db:"chronic_medications" json:"chronic_medications"`
	LastUpdated              time.Time    `db:"last_updated" json:"last_updated"`
	CreatedAt                time.Time    `db:"created_at" json:"created_at"`
	Statistics               SummaryStats `db:"-" json:"statistics"`
}

type SummaryStats struct {
	TotalReports         int64 `db:"total_reports" json:"total_reports"`
	ActivePrescriptions  int64 `db:"active_prescriptions" json:"active_prescriptions"`
	UpcomingAppointments int64 `db:"upcoming_appointments" json:"upcoming_appointments"`
	ActiveAllergies      int64 `db:"active_allergies" json:"active_allergies"`
}

type SummaryUpdate struct {
	BloodType                *string `json:"blood_type" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	EmergencyContactName     *string `json:"emergency_contact_name" validate:"omitempty,min=2,max=100"`
	EmergencyContactPhone    *string `json:"emergency_contact_phone" validate:"omitempty,min=10,max=20"`
	EmergencyContactRelation *string `json:"emergency_contact_relation" validate:"omitempty,min=2,max=50"`
	PrimaryDoctorID          *int64  `json:"primary_doctor_id" validate:"omitempty,gte=1"`
	InsuranceProvider        *string `json:"insurance_provider" validate:"omitempty,max=100"`
	InsurancePolicyNumber    *string `json:"insurance_policy_number" validate:"omitempty,max=50"`
}

func (u SummaryUpdate) Empty() bool {
	return u.BloodType == nil && u.EmergencyContactName == nil && u.EmergencyContactPhone == nil &&
		u.EmergencyContactRelation == nil && u.PrimaryDoctorID == nil &&
		u.InsuranceProvider == nil && u.InsurancePolicyNumber == nil
}
