package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/metrics"
	"github.com/aj9599/submeter-billing/models"
	"go.uber.org/zap"
)

// GenerationService keeps the daily solar and DG generation logs.
type GenerationService struct {
	db     *sql.DB
	reader DGMeterReader
}

func NewGenerationService(db *sql.DB, reader DGMeterReader) *GenerationService {
	return &GenerationService{db: db, reader: reader}
}

// UpsertSolarLog stores the day's solar units; a second entry for the same
// calendar day replaces the first.
func (s *GenerationService) UpsertSolarLog(ctx context.Context, ac AdminContext, rawDate, rawUnits string) (*models.SolarLog, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	day, err := ParseDay("date", rawDate)
	if err != nil {
		return nil, err
	}
	units, err := ParseQuantity("units", rawUnits)
	if err != nil {
		return nil, err
	}

	date := day.Format(dayLayout)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO solar_logs (admin_id, log_date, units, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (admin_id, log_date) DO UPDATE SET units = excluded.units, updated_at = excluded.updated_at
	`, ac.AdminID, date, units, touch())
	if err != nil {
		return nil, fmt.Errorf("upsert solar log: %w", err)
	}

	var l models.SolarLog
	err = s.db.QueryRowContext(ctx,
		"SELECT id, admin_id, log_date, units, updated_at FROM solar_logs WHERE admin_id = ? AND log_date = ?",
		ac.AdminID, date).Scan(&l.ID, &l.AdminID, &l.Date, &l.Units, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Named("generation").Info("solar log stored",
		zap.String("date", date), zap.Float64("units", units))
	return &l, nil
}

func (s *GenerationService) ListSolarLogs(ctx context.Context, ac AdminContext, p Period) ([]models.SolarLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, admin_id, log_date, units, updated_at FROM solar_logs
		WHERE admin_id = ? AND log_date >= ? AND log_date < ?
		ORDER BY log_date
	`, ac.AdminID, p.Start.Format(dayLayout), p.End.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("list solar logs: %w", err)
	}
	defer rows.Close()

	logs := []models.SolarLog{}
	for rows.Next() {
		var l models.SolarLog
		if err := rows.Scan(&l.ID, &l.AdminID, &l.Date, &l.Units, &l.UpdatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

type DGLogInput struct {
	DGName     string
	Date       string
	Units      string
	FuelLiters string
	FuelCost   string
}

// UpsertDGLog stores one DG set's day; same set and day replaces.
func (s *GenerationService) UpsertDGLog(ctx context.Context, ac AdminContext, in DGLogInput) (*models.DGLog, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	name, err := requireText("dg_name", in.DGName)
	if err != nil {
		return nil, err
	}
	day, err := ParseDay("date", in.Date)
	if err != nil {
		return nil, err
	}
	units, err := ParseQuantity("units_produced", in.Units)
	if err != nil {
		return nil, err
	}
	liters, err := ParseOptionalQuantity("fuel_liters", in.FuelLiters, 0)
	if err != nil {
		return nil, err
	}
	cost, err := ParseOptionalQuantity("fuel_cost", in.FuelCost, 0)
	if err != nil {
		return nil, err
	}

	date := day.Format(dayLayout)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dg_logs (admin_id, dg_name, log_date, units_produced, fuel_liters, fuel_cost, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (admin_id, dg_name, log_date) DO UPDATE SET
			units_produced = excluded.units_produced,
			fuel_liters = excluded.fuel_liters,
			fuel_cost = excluded.fuel_cost,
			updated_at = excluded.updated_at
	`, ac.AdminID, name, date, units, liters, cost, touch())
	if err != nil {
		return nil, fmt.Errorf("upsert dg log: %w", err)
	}

	logger.FromContext(ctx).Named("generation").Info("dg log stored",
		zap.String("dg", name), zap.String("date", date), zap.Float64("units", units), zap.Float64("fuel_cost", cost))
	return getDGLog(ctx, s.db, ac.AdminID, name, date)
}

func getDGLog(ctx context.Context, q dbtx, adminID int64, name, date string) (*models.DGLog, error) {
	var l models.DGLog
	err := q.QueryRowContext(ctx, `
		SELECT id, admin_id, dg_name, log_date, units_produced, fuel_liters, fuel_cost, updated_at
		FROM dg_logs WHERE admin_id = ? AND dg_name = ? AND log_date = ?
	`, adminID, name, date).Scan(&l.ID, &l.AdminID, &l.DGName, &l.Date, &l.UnitsProduced, &l.FuelLiters, &l.FuelCost, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// DGMonthlyTotal sums the period's DG logs per set and overall.
func (s *GenerationService) DGMonthlyTotal(ctx context.Context, ac AdminContext, p Period) (*models.DGMonthlyTotal, error) {
	return dgTotals(ctx, s.db, ac.AdminID, p)
}

func dgTotals(ctx context.Context, q dbtx, adminID int64, p Period) (*models.DGMonthlyTotal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dg_name, SUM(units_produced), SUM(fuel_liters), SUM(fuel_cost), COUNT(*)
		FROM dg_logs
		WHERE admin_id = ? AND log_date >= ? AND log_date < ?
		GROUP BY dg_name
	`, adminID, p.Start.Format(dayLayout), p.End.Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("sum dg logs: %w", err)
	}
	defer rows.Close()

	total := &models.DGMonthlyTotal{Month: p.Label(), PerUnit: []models.DGTotal{}}
	for rows.Next() {
		var t models.DGTotal
		if err := rows.Scan(&t.DGName, &t.Units, &t.FuelLiters, &t.FuelCost, &t.Days); err != nil {
			return nil, err
		}
		total.Units += t.Units
		total.FuelLiters += t.FuelLiters
		total.FuelCost += t.FuelCost
		total.PerUnit = append(total.PerUnit, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(total.PerUnit, func(i, j int) bool { return total.PerUnit[i].DGName < total.PerUnit[j].DGName })
	return total, nil
}

type DGUnitInput struct {
	Name            string
	ModbusHost      string
	ModbusPort      int
	ModbusUnitID    int
	RegisterAddress int
	RegisterCount   int
}

// RegisterDGUnit creates or updates the Modbus address of a DG set.
func (s *GenerationService) RegisterDGUnit(ctx context.Context, ac AdminContext, in DGUnitInput) (*models.DGUnit, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	name, err := requireText("name", in.Name)
	if err != nil {
		return nil, err
	}
	host, err := requireText("modbus_host", in.ModbusHost)
	if err != nil {
		return nil, err
	}
	if in.ModbusPort == 0 {
		in.ModbusPort = 502
	}
	if in.ModbusPort < 0 || in.ModbusPort > 65535 {
		return nil, invalid("modbus_port", "must be between 1 and 65535")
	}
	if in.ModbusUnitID == 0 {
		in.ModbusUnitID = 1
	}
	if in.ModbusUnitID < 0 || in.ModbusUnitID > 247 {
		return nil, invalid("modbus_unit_id", "must be between 1 and 247")
	}
	if in.RegisterAddress < 0 || in.RegisterAddress > 65535 {
		return nil, invalid("register_address", "must be between 0 and 65535")
	}
	if in.RegisterCount == 0 {
		in.RegisterCount = 2
	}
	if in.RegisterCount != 1 && in.RegisterCount != 2 && in.RegisterCount != 4 {
		return nil, invalid("register_count", "must be 1, 2 or 4")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dg_units (admin_id, name, modbus_host, modbus_port, modbus_unit_id, register_address, register_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (admin_id, name) DO UPDATE SET
			modbus_host = excluded.modbus_host,
			modbus_port = excluded.modbus_port,
			modbus_unit_id = excluded.modbus_unit_id,
			register_address = excluded.register_address,
			register_count = excluded.register_count
	`, ac.AdminID, name, host, in.ModbusPort, in.ModbusUnitID, in.RegisterAddress, in.RegisterCount)
	if err != nil {
		return nil, fmt.Errorf("register dg unit: %w", err)
	}
	return getDGUnit(ctx, s.db, ac.AdminID, name)
}

func getDGUnit(ctx context.Context, q dbtx, adminID int64, name string) (*models.DGUnit, error) {
	var u models.DGUnit
	var last sql.NullFloat64
	var polled sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, admin_id, name, modbus_host, modbus_port, modbus_unit_id, register_address, register_count,
			last_counter, last_polled_at
		FROM dg_units WHERE admin_id = ? AND name = ?
	`, adminID, name).Scan(&u.ID, &u.AdminID, &u.Name, &u.ModbusHost, &u.ModbusPort, &u.ModbusUnitID,
		&u.RegisterAddress, &u.RegisterCount, &last, &polled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dg unit %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if last.Valid {
		u.LastCounter = &last.Float64
	}
	if polled.Valid {
		u.LastPolledAt = &polled.Time
	}
	return &u, nil
}

// DGPollResult reports one on-demand counter read.
type DGPollResult struct {
	Unit    models.DGUnit `json:"unit"`
	Counter float64       `json:"counter"`
	Delta   float64       `json:"delta"`
	Log     models.DGLog  `json:"log"`
}

// PollDGMeter reads the DG set's energy counter once and adds the growth
// since the previous read to today's DG log. The first read only stores the
// baseline. A counter lower than the stored one is treated as a meter reset.
func (s *GenerationService) PollDGMeter(ctx context.Context, ac AdminContext, name string) (*DGPollResult, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).Named("generation")

	unit, err := getDGUnit(ctx, s.db, ac.AdminID, name)
	if err != nil {
		return nil, err
	}

	counter, err := s.reader.ReadCounter(ctx, *unit)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return nil, err
		}
		metrics.UpstreamFailures.WithLabelValues("modbus").Inc()
		log.Error("dg counter read failed", zap.String("dg", name), zap.Error(err))
		return nil, upstream("dg meter read", err)
	}

	delta := 0.0
	if unit.LastCounter != nil {
		delta = counter - *unit.LastCounter
		if delta < 0 {
			delta = counter
		}
	}

	polledAt := touch()
	date := polledAt.Format(dayLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dg_logs (admin_id, dg_name, log_date, units_produced, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (admin_id, dg_name, log_date) DO UPDATE SET
			units_produced = units_produced + excluded.units_produced,
			updated_at = excluded.updated_at
	`, ac.AdminID, unit.Name, date, delta, polledAt); err != nil {
		return nil, fmt.Errorf("accumulate dg log: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE dg_units SET last_counter = ?, last_polled_at = ? WHERE id = ?",
		counter, polledAt, unit.ID); err != nil {
		return nil, fmt.Errorf("store dg counter: %w", err)
	}

	dgLog, err := getDGLog(ctx, tx, ac.AdminID, unit.Name, date)
	if err != nil {
		return nil, err
	}
	updated, err := getDGUnit(ctx, tx, ac.AdminID, unit.Name)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Info("dg counter polled",
		zap.String("dg", unit.Name), zap.Float64("counter", counter), zap.Float64("delta", delta))
	return &DGPollResult{Unit: *updated, Counter: counter, Delta: delta, Log: *dgLog}, nil
}
