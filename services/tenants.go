package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/models"
	"go.uber.org/zap"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type TenantService struct {
	db *sql.DB
}

func NewTenantService(db *sql.DB) *TenantService {
	return &TenantService{db: db}
}

// TenantInput carries raw boundary values; numbers are parsed once here.
type TenantInput struct {
	Name            string
	ShopNumber      string
	MeterNumber     string
	OpeningMeter    string
	Multiplier      string
	RatePerUnit     string
	TransformerLoss string
	FixedCharge     string
	DGConnected     bool
}

type tenantFields struct {
	name, shop, meter                     string
	opening, multiplier, rate, loss, fixed float64
	dg                                    bool
}

func (in TenantInput) parse() (tenantFields, error) {
	var f tenantFields
	var err error

	if f.name, err = requireText("name", in.Name); err != nil {
		return f, err
	}
	if f.meter, err = requireText("meter_number", in.MeterNumber); err != nil {
		return f, err
	}
	f.shop = in.ShopNumber
	if f.opening, err = ParseOptionalQuantity("opening_meter", in.OpeningMeter, 0); err != nil {
		return f, err
	}
	if f.multiplier, err = ParseOptionalQuantity("multiplier", in.Multiplier, 1); err != nil {
		return f, err
	}
	if f.multiplier == 0 {
		return f, invalid("multiplier", "must be greater than zero")
	}
	if f.rate, err = ParseQuantity("rate_per_unit", in.RatePerUnit); err != nil {
		return f, err
	}
	if f.loss, err = ParseOptionalQuantity("transformer_loss", in.TransformerLoss, 0); err != nil {
		return f, err
	}
	if f.loss > 100 {
		return f, invalid("transformer_loss", "must be a percentage between 0 and 100")
	}
	if f.fixed, err = ParseOptionalQuantity("fixed_charge", in.FixedCharge, 0); err != nil {
		return f, err
	}
	f.dg = in.DGConnected
	return f, nil
}

// Create registers a tenant meter. Its running closing total starts at the
// opening meter reading.
func (s *TenantService) Create(ctx context.Context, ac AdminContext, in TenantInput) (*models.Tenant, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	f, err := in.parse()
	if err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (
			admin_id, name, shop_number, meter_number, opening_meter, multiplier,
			rate_per_unit, transformer_loss, fixed_charge, dg_connected, current_closing
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ac.AdminID, f.name, f.shop, f.meter, f.opening, f.multiplier, f.rate, f.loss, f.fixed, f.dg, f.opening)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}

	id, _ := result.LastInsertId()
	logger.FromContext(ctx).Named("tenants").Info("tenant created",
		zap.Int64("tenant_id", id), zap.Int64("admin_id", ac.AdminID), zap.String("meter", f.meter))
	return s.Get(ctx, ac, id)
}

// Update changes a tenant's configuration. The running closing total is not
// writable here; it moves only through reading approval. The opening meter
// may change only while no reading has been approved against it, and then
// the closing total follows it.
func (s *TenantService) Update(ctx context.Context, ac AdminContext, id int64, in TenantInput) (*models.Tenant, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	f, err := in.parse()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := getTenant(ctx, tx, ac.AdminID, id)
	if err != nil {
		return nil, err
	}

	var approved int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM readings WHERE tenant_id = ? AND admin_id = ? AND status = ?",
		id, ac.AdminID, models.ReadingApproved).Scan(&approved); err != nil {
		return nil, fmt.Errorf("count approved readings: %w", err)
	}
	closing := current.CurrentClosing
	if f.opening != current.OpeningMeter {
		if approved > 0 {
			return nil, fmt.Errorf("tenant %d has %d approved readings, opening meter is fixed: %w", id, approved, ErrConflict)
		}
		closing = f.opening
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tenants SET
			name = ?, shop_number = ?, meter_number = ?, opening_meter = ?, multiplier = ?,
			rate_per_unit = ?, transformer_loss = ?, fixed_charge = ?, dg_connected = ?, current_closing = ?
		WHERE id = ? AND admin_id = ?
	`, f.name, f.shop, f.meter, f.opening, f.multiplier, f.rate, f.loss, f.fixed, f.dg, closing, id, ac.AdminID)
	if err != nil {
		return nil, fmt.Errorf("update tenant %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, ac, id)
}

func (s *TenantService) Delete(ctx context.Context, ac AdminContext, id int64) error {
	if err := ac.RequireAdmin(); err != nil {
		return err
	}
	if _, err := s.Get(ctx, ac, id); err != nil {
		return err
	}

	var statements int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM statements WHERE tenant_id = ?", id).Scan(&statements); err != nil {
		return fmt.Errorf("count statements: %w", err)
	}
	if statements > 0 {
		return fmt.Errorf("tenant %d has %d saved statements: %w", id, statements, ErrConflict)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM readings WHERE tenant_id = ? AND admin_id = ?", id, ac.AdminID); err != nil {
		return fmt.Errorf("delete readings of tenant %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tenants WHERE id = ? AND admin_id = ?", id, ac.AdminID); err != nil {
		return fmt.Errorf("delete tenant %d: %w", id, err)
	}
	return tx.Commit()
}

const tenantColumns = `
	id, admin_id, name, shop_number, meter_number, opening_meter, multiplier,
	rate_per_unit, transformer_loss, fixed_charge, dg_connected, current_closing,
	last_updated, created_at`

func scanTenant(row interface{ Scan(...interface{}) error }) (*models.Tenant, error) {
	var t models.Tenant
	var lastUpdated sql.NullTime
	err := row.Scan(
		&t.ID, &t.AdminID, &t.Name, &t.ShopNumber, &t.MeterNumber, &t.OpeningMeter, &t.Multiplier,
		&t.RatePerUnit, &t.TransformerLoss, &t.FixedCharge, &t.DGConnected, &t.CurrentClosing,
		&lastUpdated, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		lu := lastUpdated.Time
		t.LastUpdated = &lu
	}
	return &t, nil
}

func (s *TenantService) Get(ctx context.Context, ac AdminContext, id int64) (*models.Tenant, error) {
	return getTenant(ctx, s.db, ac.AdminID, id)
}

func getTenant(ctx context.Context, q dbtx, adminID, id int64) (*models.Tenant, error) {
	t, err := scanTenant(q.QueryRowContext(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = ? AND admin_id = ?", id, adminID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tenant", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant %d: %w", id, err)
	}
	return t, nil
}

func (s *TenantService) List(ctx context.Context, ac AdminContext) ([]models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE admin_id = ? ORDER BY shop_number, name", ac.AdminID)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []models.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

func touch() time.Time {
	return now().UTC()
}
