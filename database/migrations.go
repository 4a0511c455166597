package database

import (
	"database/sql"
	"fmt"

	"github.com/aj9599/submeter-billing/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminEmail    = "admin@submeter.local"
	defaultAdminPassword = "admin123"
	defaultAdminCode     = "ADMIN-0001"
)

func RunMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			phone TEXT DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('Admin', 'ReadingTaker')),
			admin_code TEXT UNIQUE,
			belongs_to_admin INTEGER,
			company_name TEXT DEFAULT '',
			upi_id_sealed TEXT DEFAULT '',
			otp_hash TEXT,
			otp_expires_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (belongs_to_admin) REFERENCES users(id),
			CHECK (role = 'Admin' OR belongs_to_admin IS NOT NULL)
		)`,

		`CREATE TABLE IF NOT EXISTS tenants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			shop_number TEXT DEFAULT '',
			meter_number TEXT NOT NULL,
			opening_meter REAL NOT NULL DEFAULT 0,
			multiplier REAL NOT NULL DEFAULT 1,
			rate_per_unit REAL NOT NULL,
			transformer_loss REAL NOT NULL DEFAULT 0,
			fixed_charge REAL NOT NULL DEFAULT 0,
			dg_connected INTEGER NOT NULL DEFAULT 0,
			current_closing REAL NOT NULL DEFAULT 0,
			last_updated DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (admin_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			tenant_id INTEGER NOT NULL,
			closing_value REAL NOT NULL,
			photo_url TEXT NOT NULL,
			photo_key TEXT DEFAULT '',
			status TEXT NOT NULL DEFAULT 'Pending' CHECK (status IN ('Pending', 'Approved', 'Rejected')),
			rejection_reason TEXT DEFAULT '',
			submitted_by INTEGER NOT NULL,
			submitted_at DATETIME NOT NULL,
			decided_by INTEGER,
			decided_at DATETIME,
			closing_before REAL,
			closing_after REAL,
			FOREIGN KEY (admin_id) REFERENCES users(id),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id),
			FOREIGN KEY (submitted_by) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS solar_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			log_date TEXT NOT NULL,
			units REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (admin_id, log_date),
			FOREIGN KEY (admin_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS dg_units (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			modbus_host TEXT DEFAULT '',
			modbus_port INTEGER DEFAULT 502,
			modbus_unit_id INTEGER DEFAULT 1,
			register_address INTEGER DEFAULT 0,
			register_count INTEGER DEFAULT 2,
			last_counter REAL,
			last_polled_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (admin_id, name),
			FOREIGN KEY (admin_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS dg_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			dg_name TEXT NOT NULL,
			log_date TEXT NOT NULL,
			units_produced REAL NOT NULL DEFAULT 0,
			fuel_liters REAL NOT NULL DEFAULT 0,
			fuel_cost REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (admin_id, dg_name, log_date),
			FOREIGN KEY (admin_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS bills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			bill_month TEXT NOT NULL,
			units_billed REAL NOT NULL,
			energy_charges REAL NOT NULL DEFAULT 0,
			fixed_charges REAL NOT NULL DEFAULT 0,
			tax_charges REAL NOT NULL DEFAULT 0,
			total_amount REAL NOT NULL,
			document_url TEXT DEFAULT '',
			document_key TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (admin_id) REFERENCES users(id)
		)`,

		`CREATE TABLE IF NOT EXISTS statements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			tenant_id INTEGER NOT NULL,
			statement_number TEXT UNIQUE NOT NULL,
			period TEXT NOT NULL,
			opening_reading REAL NOT NULL,
			closing_reading REAL NOT NULL,
			units REAL NOT NULL,
			rate_per_unit REAL NOT NULL,
			energy_charge REAL NOT NULL,
			fixed_charge REAL NOT NULL,
			transformer_loss_charge REAL NOT NULL,
			dg_charge REAL NOT NULL,
			total_amount REAL NOT NULL,
			document_url TEXT DEFAULT '',
			document_key TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (tenant_id, period),
			FOREIGN KEY (admin_id) REFERENCES users(id),
			FOREIGN KEY (tenant_id) REFERENCES tenants(id)
		)`,

		`CREATE TABLE IF NOT EXISTS business_summaries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id INTEGER NOT NULL,
			month TEXT NOT NULL,
			grid_units REAL NOT NULL DEFAULT 0,
			solar_units REAL NOT NULL DEFAULT 0,
			dg_units REAL NOT NULL DEFAULT 0,
			tenant_units REAL NOT NULL DEFAULT 0,
			common_loss REAL NOT NULL DEFAULT 0,
			loss_percent REAL NOT NULL DEFAULT 0,
			tenant_collection REAL NOT NULL DEFAULT 0,
			grid_bill_amount REAL NOT NULL DEFAULT 0,
			profit REAL NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (admin_id, month),
			FOREIGN KEY (admin_id) REFERENCES users(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tenants_admin ON tenants(admin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_admin_status ON readings(admin_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_tenant_decided ON readings(tenant_id, status, decided_at)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_submitter ON readings(submitted_by)`,
		`CREATE INDEX IF NOT EXISTS idx_bills_admin_month ON bills(admin_id, bill_month)`,
		`CREATE INDEX IF NOT EXISTS idx_statements_admin_period ON statements(admin_id, period)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	if err := seedDefaultAdmin(db); err != nil {
		return err
	}

	logger.L().Info("migrations completed", zap.Int("count", len(migrations)))
	return nil
}

func seedDefaultAdmin(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users WHERE role = 'Admin'").Scan(&count); err != nil {
		return fmt.Errorf("count admins: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash default admin password: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO users (name, email, password_hash, role, admin_code, company_name)
		VALUES ('Administrator', ?, ?, 'Admin', ?, 'Default Company')
	`, defaultAdminEmail, string(hash), defaultAdminCode)
	if err != nil {
		return fmt.Errorf("seed default admin: %w", err)
	}

	logger.L().Warn("created default admin, change the password after first login",
		zap.String("email", defaultAdminEmail),
		zap.String("admin_code", defaultAdminCode))
	return nil
}
