package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/models"
	"go.uber.org/zap"
)

// TenantPeriod is one tenant's meter movement over a period.
type TenantPeriod struct {
	TenantID        int64   `json:"tenant_id"`
	Name            string  `json:"name"`
	ShopNumber      string  `json:"shop_number"`
	MeterNumber     string  `json:"meter_number"`
	Multiplier      float64 `json:"multiplier"`
	RatePerUnit     float64 `json:"rate_per_unit"`
	TransformerLoss float64 `json:"transformer_loss"`
	FixedCharge     float64 `json:"fixed_charge"`
	DGConnected     bool    `json:"dg_connected"`
	OpeningReading  float64 `json:"opening_reading"`
	ClosingReading  float64 `json:"closing_reading"`
	Spike           float64 `json:"spike"`
	Units           float64 `json:"units"`
	Readings        int     `json:"readings"`
}

type ReconcileReport struct {
	AdminID int64  `json:"admin_id"`
	Period  string `json:"period"`
	From    string `json:"from"`
	To      string `json:"to"`
	Reconciliation
	Bill       *models.Bill   `json:"bill"`
	DGFuelCost float64        `json:"dg_fuel_cost"`
	Tenants    []TenantPeriod `json:"tenants"`
}

// DGPool spreads the period's DG fuel cost over DG-connected consumption.
func (r *ReconcileReport) DGPool() DGPool {
	pool := DGPool{FuelCost: r.DGFuelCost}
	for _, t := range r.Tenants {
		if t.DGConnected {
			pool.ConnectedUnits += t.Units
		}
	}
	return pool
}

type ReconcileService struct {
	db *sql.DB
}

func NewReconcileService(db *sql.DB) *ReconcileService {
	return &ReconcileService{db: db}
}

// Reconcile balances the period's supply against tenant consumption. It only
// reads, and reads everything from one snapshot.
func (s *ReconcileService) Reconcile(ctx context.Context, ac AdminContext, p Period) (*ReconcileReport, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	report, err := gatherPeriod(ctx, tx, ac.AdminID, p)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Named("reconcile").Debug("period reconciled",
		zap.String("period", report.Period),
		zap.Float64("total_in", report.TotalEnergyIn),
		zap.Float64("tenant_sum", report.TenantSum),
		zap.Float64("loss_percent", report.LossPercent))
	return report, nil
}

func gatherPeriod(ctx context.Context, q dbtx, adminID int64, p Period) (*ReconcileReport, error) {
	report := &ReconcileReport{
		AdminID: adminID,
		Period:  p.Label(),
		From:    p.Start.Format(dayLayout),
		To:      p.End.AddDate(0, 0, -1).Format(dayLayout),
		Tenants: []TenantPeriod{},
	}

	bill, err := latestBill(ctx, q, adminID, p.Month())
	if err != nil {
		return nil, err
	}
	report.Bill = bill

	var solar float64
	err = q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(units), 0) FROM solar_logs WHERE admin_id = ? AND log_date >= ? AND log_date < ?",
		adminID, p.Start.Format(dayLayout), p.End.Format(dayLayout)).Scan(&solar)
	if err != nil {
		return nil, fmt.Errorf("sum solar: %w", err)
	}

	dg, err := dgTotals(ctx, q, adminID, p)
	if err != nil {
		return nil, err
	}
	report.DGFuelCost = dg.FuelCost

	tenants, err := tenantMovements(ctx, q, adminID, p)
	if err != nil {
		return nil, err
	}
	report.Tenants = tenants

	in := ReconcileInput{SolarUnits: solar, DGUnits: dg.Units}
	if bill != nil {
		in.GridUnits = bill.UnitsBilled
	}
	for _, t := range tenants {
		in.TenantUnits = append(in.TenantUnits, t.Units)
	}
	report.Reconciliation = Reconcile(in)
	return report, nil
}

// tenantMovements derives each tenant's opening reading and period advance
// from approved reading deltas, by decision time.
func tenantMovements(ctx context.Context, q dbtx, adminID int64, p Period) ([]TenantPeriod, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.name, t.shop_number, t.meter_number, t.multiplier, t.rate_per_unit,
			t.transformer_loss, t.fixed_charge, t.dg_connected, t.opening_meter,
			COALESCE((SELECT SUM(r.closing_value) FROM readings r
				WHERE r.tenant_id = t.id AND r.status = 'Approved' AND r.decided_at < ?), 0),
			COALESCE((SELECT SUM(r.closing_value) FROM readings r
				WHERE r.tenant_id = t.id AND r.status = 'Approved' AND r.decided_at >= ? AND r.decided_at < ?), 0),
			(SELECT COUNT(*) FROM readings r
				WHERE r.tenant_id = t.id AND r.status = 'Approved' AND r.decided_at >= ? AND r.decided_at < ?)
		FROM tenants t
		WHERE t.admin_id = ?
		ORDER BY t.shop_number, t.name
	`, p.Start, p.Start, p.End, p.Start, p.End, adminID)
	if err != nil {
		return nil, fmt.Errorf("tenant movements: %w", err)
	}
	defer rows.Close()

	out := []TenantPeriod{}
	for rows.Next() {
		var t TenantPeriod
		var openingMeter, before float64
		if err := rows.Scan(&t.TenantID, &t.Name, &t.ShopNumber, &t.MeterNumber, &t.Multiplier, &t.RatePerUnit,
			&t.TransformerLoss, &t.FixedCharge, &t.DGConnected, &openingMeter, &before, &t.Spike, &t.Readings); err != nil {
			return nil, err
		}
		t.OpeningReading = openingMeter + before
		t.ClosingReading = t.OpeningReading + t.Spike
		t.Units = TenantUnits(t.Spike, t.Multiplier)
		out = append(out, t)
	}
	return out, rows.Err()
}
