package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Run creates the database schema required by the pharmacy API. Every
// statement is idempotent.
func Run(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}

// Date-only columns are TEXT (YYYY-MM-DD). DATETIME columns are written by
// the application so the driver can parse them back into time.Time.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        name TEXT NOT NULL,
        phone TEXT,
        address TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE TABLE IF NOT EXISTS admins (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        name TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'admin',
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE TABLE IF NOT EXISTS drugs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        description TEXT,
        price DECIMAL(10,2) NOT NULL CHECK (price >= 0),
        stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
        image_url TEXT,
        requires_prescription BOOLEAN NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_drugs_name ON drugs(name);`,
	`CREATE TABLE IF NOT EXISTS cart_items (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        drug_id INTEGER NOT NULL,
        quantity INTEGER NOT NULL CHECK (quantity >= 1),
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        UNIQUE(user_id, drug_id),
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(drug_id) REFERENCES drugs(id) ON DELETE CASCADE
    );`,
	`CREATE TABLE IF NOT EXISTS orders (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending'
            CHECK (status IN ('pending', 'processing', 'out_for_delivery', 'delivered', 'cancelled')),
        total_amount DECIMAL(10,2) NOT NULL CHECK (total_amount >= 0),
        delivery_address TEXT NOT NULL,
        payment_method TEXT NOT NULL CHECK (payment_method IN ('cash', 'card')),
        idempotency_key TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        UNIQUE(user_id, idempotency_key),
        FOREIGN KEY(user_id) REFERENCES users(id)
    );`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);`,
	`CREATE TABLE IF NOT EXISTS order_items (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        order_id INTEGER NOT NULL,
        drug_id INTEGER NOT NULL,
        quantity INTEGER NOT NULL CHECK (quantity >= 1),
        price_at_purchase DECIMAL(10,2) NOT NULL CHECK (price_at_purchase >= 0),
        FOREIGN KEY(order_id) REFERENCES orders(id) ON DELETE CASCADE,
        FOREIGN KEY(drug_id) REFERENCES drugs(id)
    );`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_drug ON order_items(drug_id);`,
	`CREATE TABLE IF NOT EXISTS prescriptions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        order_id INTEGER NOT NULL UNIQUE,
        image_url TEXT NOT NULL,
        uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(order_id) REFERENCES orders(id) ON DELETE CASCADE
    );`,

	`CREATE TABLE IF NOT EXISTS doctors (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        phone TEXT,
        specialization TEXT NOT NULL,
        license_number TEXT NOT NULL UNIQUE,
        hospital_clinic TEXT NOT NULL,
        years_experience INTEGER NOT NULL DEFAULT 0 CHECK (years_experience >= 0),
        consultation_fee DECIMAL(10,2) NOT NULL DEFAULT 0 CHECK (consultation_fee >= 0),
        available_days TEXT,
        available_time_start TEXT,
        available_time_end TEXT,
        profile_image TEXT,
        bio TEXT,
        is_active BOOLEAN NOT NULL DEFAULT 1,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`,
	`CREATE TABLE IF NOT EXISTS medical_reports (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        doctor_id INTEGER NOT NULL,
        report_type TEXT NOT NULL
            CHECK (report_type IN ('consultation', 'lab_result', 'imaging', 'discharge_summary')),
        title TEXT NOT NULL,
        description TEXT,
        diagnosis TEXT,
        symptoms TEXT,
        treatment_plan TEXT,
        notes TEXT,
        report_date TEXT NOT NULL,
        follow_up_date TEXT,
        severity_level TEXT NOT NULL DEFAULT 'moderate'
            CHECK (severity_level IN ('mild', 'moderate', 'severe', 'critical')),
        status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'resolved', 'chronic')),
        attachments TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(doctor_id) REFERENCES doctors(id) ON DELETE CASCADE
    );`,
	`CREATE INDEX IF NOT EXISTS idx_medical_reports_user ON medical_reports(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_medical_reports_doctor ON medical_reports(doctor_id);`,
	`CREATE INDEX IF NOT EXISTS idx_medical_reports_date ON medical_reports(report_date);`,
	`CREATE TABLE IF NOT EXISTS medical_prescriptions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        doctor_id INTEGER NOT NULL,
        medical_report_id INTEGER,
        prescription_number TEXT NOT NULL UNIQUE,
        diagnosis TEXT,
        instructions TEXT,
        notes TEXT,
        prescribed_date TEXT NOT NULL,
        expiry_date TEXT,
        is_active BOOLEAN NOT NULL DEFAULT 1,
        status TEXT NOT NULL DEFAULT 'active'
            CHECK (status IN ('active', 'completed', 'expired', 'cancelled')),
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(doctor_id) REFERENCES doctors(id) ON DELETE CASCADE,
        FOREIGN KEY(medical_report_id) REFERENCES medical_reports(id) ON DELETE SET NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_user ON medical_prescriptions(user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_prescriptions_doctor ON medical_prescriptions(doctor_id);`,
	`CREATE TABLE IF NOT EXISTS prescription_drugs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        prescription_id INTEGER NOT NULL,
        drug_id INTEGER NOT NULL,
        dosage TEXT NOT NULL,
        frequency TEXT NOT NULL,
        duration TEXT NOT NULL,
        instructions TEXT,
        quantity INTEGER NOT NULL CHECK (quantity >= 1),
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(prescription_id) REFERENCES medical_prescriptions(id) ON DELETE CASCADE,
        FOREIGN KEY(drug_id) REFERENCES drugs(id) ON DELETE CASCADE
    );`,
	`CREATE TABLE IF NOT EXISTS appointments (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        doctor_id INTEGER NOT NULL,
        appointment_type TEXT NOT NULL
            CHECK (appointment_type IN ('consultation', 'follow_up', 'emergency')),
        purpose TEXT NOT NULL,
        appointment_date DATETIME NOT NULL,
        duration_minutes INTEGER NOT NULL DEFAULT 30 CHECK (duration_minutes BETWEEN 15 AND 180),
        status TEXT NOT NULL DEFAULT 'scheduled'
            CHECK (status IN ('scheduled', 'confirmed', 'completed', 'cancelled', 'no_show')),
        consultation_fee DECIMAL(10,2) NOT NULL DEFAULT 0,
        payment_status TEXT NOT NULL DEFAULT 'pending' CHECK (payment_status IN ('pending', 'paid', 'refunded')),
        notes TEXT,
        symptoms TEXT,
        reminder_sent BOOLEAN NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(doctor_id) REFERENCES doctors(id) ON DELETE CASCADE
    );`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_user ON appointments(user_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_appointments_doctor_slot ON appointments(doctor_id, appointment_date)
        WHERE status NOT IN ('cancelled', 'no_show');`,
	`CREATE TABLE IF NOT EXISTS allergies (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        allergen TEXT NOT NULL,
        allergy_type TEXT NOT NULL CHECK (allergy_type IN ('drug', 'food', 'environmental', 'other')),
        severity TEXT NOT NULL CHECK (severity IN ('mild', 'moderate', 'severe')),
        reaction TEXT,
        notes TEXT,
        is_active BOOLEAN NOT NULL DEFAULT 1,
        diagnosed_date TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_allergies_active ON allergies(user_id, allergen COLLATE NOCASE)
        WHERE is_active = 1;`,
	`CREATE TABLE IF NOT EXISTS chronic_conditions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        condition_name TEXT NOT NULL,
        icd10_code TEXT,
        diagnosed_date TEXT NOT NULL,
        treating_doctor_id INTEGER,
        severity TEXT NOT NULL DEFAULT 'moderate' CHECK (severity IN ('mild', 'moderate', 'severe')),
        status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'controlled', 'resolved')),
        medications TEXT,
        notes TEXT,
        last_checkup_date TEXT,
        next_checkup_date TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(treating_doctor_id) REFERENCES doctors(id) ON DELETE SET NULL
    );`,
	`CREATE TABLE IF NOT EXISTS vital_signs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        recorded_by INTEGER,
        record_type TEXT NOT NULL
            CHECK (record_type IN ('blood_pressure', 'heart_rate', 'temperature', 'weight', 'height', 'blood_sugar')),
        value TEXT NOT NULL,
        unit TEXT NOT NULL,
        recorded_date DATETIME NOT NULL,
        notes TEXT,
        appointment_id INTEGER,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(recorded_by) REFERENCES users(id) ON DELETE SET NULL,
        FOREIGN KEY(appointment_id) REFERENCES appointments(id) ON DELETE SET NULL
    );`,
	`CREATE INDEX IF NOT EXISTS idx_vital_signs_user ON vital_signs(user_id, recorded_date);`,
	`CREATE TABLE IF NOT EXISTS medical_history_summary (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL UNIQUE,
        blood_type TEXT CHECK (blood_type IS NULL OR blood_type IN ('A+', 'A-', 'B+', 'B-', 'AB+', 'AB-', 'O+', 'O-')),
        emergency_contact_name TEXT,
        emergency_contact_phone TEXT,
        emergency_contact_relation TEXT,
        primary_doctor_id INTEGER,
        insurance_provider TEXT,
        insurance_policy_number TEXT,
        known_allergies TEXT,
        chronic_medications TEXT,
        last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
        FOREIGN KEY(primary_doctor_id) REFERENCES doctors(id) ON DELETE SET NULL
    );`,
}
