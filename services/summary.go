package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aj9599/submeter-billing/models"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

type SummaryService struct {
	db *sql.DB
}

func NewSummaryService(db *sql.DB) *SummaryService {
	return &SummaryService{db: db}
}

// SummaryInput is a month's energy balance and money flow.
type SummaryInput struct {
	Month            string
	Reconciliation   Reconciliation
	TenantCollection float64
	GridBillAmount   float64
}

// upsertSummary writes the single summary row of (admin, month); a repeat
// for the same month replaces the figures.
func upsertSummary(ctx context.Context, q dbtx, adminID int64, in SummaryInput) error {
	profit := toFloat(decimal.NewFromFloat(in.TenantCollection).Sub(decimal.NewFromFloat(in.GridBillAmount)).Round(2))
	r := in.Reconciliation
	_, err := q.ExecContext(ctx, `
		INSERT INTO business_summaries (
			admin_id, month, grid_units, solar_units, dg_units, tenant_units, common_loss,
			loss_percent, tenant_collection, grid_bill_amount, profit, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (admin_id, month) DO UPDATE SET
			grid_units = excluded.grid_units,
			solar_units = excluded.solar_units,
			dg_units = excluded.dg_units,
			tenant_units = excluded.tenant_units,
			common_loss = excluded.common_loss,
			loss_percent = excluded.loss_percent,
			tenant_collection = excluded.tenant_collection,
			grid_bill_amount = excluded.grid_bill_amount,
			profit = excluded.profit,
			updated_at = excluded.updated_at
	`, adminID, in.Month, r.GridUnits, r.SolarUnits, r.DGUnits, r.TenantSum, r.CommonLoss,
		r.LossPercent, in.TenantCollection, in.GridBillAmount, profit, touch())
	if err != nil {
		return fmt.Errorf("upsert summary %s: %w", in.Month, err)
	}
	return nil
}

const summaryColumns = `id, admin_id, month, grid_units, solar_units, dg_units, tenant_units, common_loss,
	loss_percent, tenant_collection, grid_bill_amount, profit, created_at, updated_at`

func scanSummary(row interface{ Scan(...interface{}) error }) (*models.BusinessSummary, error) {
	var b models.BusinessSummary
	err := row.Scan(&b.ID, &b.AdminID, &b.Month, &b.GridUnits, &b.SolarUnits, &b.DGUnits, &b.TenantUnits,
		&b.CommonLoss, &b.LossPercent, &b.TenantCollection, &b.GridBillAmount, &b.Profit, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SummaryService) Get(ctx context.Context, ac AdminContext, month string) (*models.BusinessSummary, error) {
	b, err := scanSummary(s.db.QueryRowContext(ctx,
		"SELECT "+summaryColumns+" FROM business_summaries WHERE admin_id = ? AND month = ?", ac.AdminID, month))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary for %s: %w", month, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// List returns the company's summaries, newest month first.
func (s *SummaryService) List(ctx context.Context, ac AdminContext) ([]models.BusinessSummary, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+summaryColumns+" FROM business_summaries WHERE admin_id = ? ORDER BY month DESC", ac.AdminID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	out := []models.BusinessSummary{}
	for rows.Next() {
		b, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Report renders the month's summary as a one page PDF.
func (s *SummaryService) Report(ctx context.Context, ac AdminContext, month string) ([]byte, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	period, err := ParseMonth("month", month)
	if err != nil {
		return nil, err
	}
	summary, err := s.Get(ctx, ac, period.Month())
	if err != nil {
		return nil, err
	}

	var company string
	if err := s.db.QueryRowContext(ctx, "SELECT company_name FROM users WHERE id = ?", ac.AdminID).Scan(&company); err != nil {
		return nil, fmt.Errorf("load company: %w", err)
	}
	return renderSummaryPDF(company, summary)
}

func renderSummaryPDF(company string, b *models.BusinessSummary) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(0, 123, 255)
	pdf.Cell(0, 10, "Monthly Business Summary")
	pdf.Ln(10)

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, company+"  |  "+b.Month)
	pdf.Ln(12)

	section := func(title string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.SetFillColor(240, 240, 240)
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(0, 8, title, "", 1, "L", true, 0, "")
		pdf.Ln(1)
	}
	row := func(label, value string) {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(110, 7, label, "B", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, value, "B", 1, "R", false, 0, "")
	}

	section("Energy")
	row("Grid units (utility bill)", fmt.Sprintf("%.2f kWh", b.GridUnits))
	row("Solar units", fmt.Sprintf("%.2f kWh", b.SolarUnits))
	row("DG units", fmt.Sprintf("%.2f kWh", b.DGUnits))
	row("Total energy in", fmt.Sprintf("%.2f kWh", b.GridUnits+b.SolarUnits+b.DGUnits))
	row("Tenant consumption", fmt.Sprintf("%.2f kWh", b.TenantUnits))
	row("Common area loss", fmt.Sprintf("%.2f kWh (%.2f%%)", b.CommonLoss, b.LossPercent))
	pdf.Ln(6)

	section("Money")
	row("Collected from tenants", fmt.Sprintf("Rs %.2f", b.TenantCollection))
	row("Grid bill", fmt.Sprintf("Rs %.2f", b.GridBillAmount))

	pdf.SetFont("Arial", "B", 11)
	if b.Profit < 0 {
		pdf.SetTextColor(200, 35, 51)
	} else {
		pdf.SetTextColor(21, 87, 36)
	}
	pdf.CellFormat(110, 9, "Profit", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 9, fmt.Sprintf("Rs %.2f", b.Profit), "", 1, "R", false, 0, "")

	pdf.SetY(-25)
	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(150, 150, 150)
	pdf.Cell(0, 5, "Last updated "+b.UpdatedAt.UTC().Format("2006-01-02 15:04")+" UTC")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render summary pdf: %w", err)
	}
	return buf.Bytes(), nil
}
