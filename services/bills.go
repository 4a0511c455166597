package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/metrics"
	"github.com/aj9599/submeter-billing/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BillService struct {
	db            *sql.DB
	docs          DocumentStore
	uploadTimeout time.Duration
}

func NewBillService(db *sql.DB, docs DocumentStore, uploadTimeout time.Duration) *BillService {
	return &BillService{db: db, docs: docs, uploadTimeout: uploadTimeout}
}

type BillInput struct {
	BillMonth     string
	UnitsBilled   string
	EnergyCharges string
	FixedCharges  string
	TaxCharges    string
}

// Document is an optional uploaded scan of the utility bill.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// AddBill appends a utility grid bill. Bills are never replaced; the
// most recent one for a month wins in reconciliation.
func (s *BillService) AddBill(ctx context.Context, ac AdminContext, in BillInput, doc *Document) (*models.Bill, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).Named("bills")

	if strings.TrimSpace(in.BillMonth) == "" {
		return nil, invalid("bill_month", "is required")
	}
	period, err := ParseMonth("bill_month", in.BillMonth)
	if err != nil {
		return nil, err
	}
	units, err := ParseQuantity("units_billed", in.UnitsBilled)
	if err != nil {
		return nil, err
	}
	energy, err := ParseOptionalQuantity("energy_charges", in.EnergyCharges, 0)
	if err != nil {
		return nil, err
	}
	fixed, err := ParseOptionalQuantity("fixed_charges", in.FixedCharges, 0)
	if err != nil {
		return nil, err
	}
	tax, err := ParseOptionalQuantity("tax_charges", in.TaxCharges, 0)
	if err != nil {
		return nil, err
	}
	total := toFloat(decimal.NewFromFloat(energy).Add(decimal.NewFromFloat(fixed)).Add(decimal.NewFromFloat(tax)).Round(2))

	var stored StoredDocument
	if doc != nil && len(doc.Data) > 0 {
		stored, err = putWithTimeout(ctx, s.docs, s.uploadTimeout, FolderBills, doc.Name, doc.ContentType, doc.Data)
		if err != nil {
			metrics.UpstreamFailures.WithLabelValues("storage").Inc()
			log.Error("bill document upload failed", zap.Error(err))
			return nil, err
		}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bills (admin_id, bill_month, units_billed, energy_charges, fixed_charges, tax_charges,
			total_amount, document_url, document_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ac.AdminID, period.Month(), units, energy, fixed, tax, total, stored.URL, stored.Key, touch())
	if err != nil {
		if stored.Key != "" {
			discard(ctx, s.docs, stored.Key)
		}
		return nil, fmt.Errorf("insert bill: %w", err)
	}

	id, _ := result.LastInsertId()
	log.Info("grid bill added",
		zap.Int64("bill_id", id), zap.String("month", period.Month()),
		zap.Float64("units", units), zap.Float64("total", total))
	return s.get(ctx, ac.AdminID, id)
}

func (s *BillService) get(ctx context.Context, adminID, id int64) (*models.Bill, error) {
	b, err := scanBill(s.db.QueryRowContext(ctx, "SELECT "+billColumns+" FROM bills WHERE id = ? AND admin_id = ?", id, adminID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("bill", id)
	}
	return b, err
}

// BillHistory lists the company's bills newest first.
func (s *BillService) BillHistory(ctx context.Context, ac AdminContext) ([]models.Bill, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+billColumns+" FROM bills WHERE admin_id = ? ORDER BY bill_month DESC, created_at DESC, id DESC",
		ac.AdminID)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	bills := []models.Bill{}
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, *b)
	}
	return bills, rows.Err()
}

const billColumns = `id, admin_id, bill_month, units_billed, energy_charges, fixed_charges, tax_charges,
	total_amount, document_url, created_at`

func scanBill(row interface{ Scan(...interface{}) error }) (*models.Bill, error) {
	var b models.Bill
	err := row.Scan(&b.ID, &b.AdminID, &b.BillMonth, &b.UnitsBilled, &b.EnergyCharges, &b.FixedCharges,
		&b.TaxCharges, &b.TotalAmount, &b.DocumentURL, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// latestBill is the most recent bill whose month is not after month.
func latestBill(ctx context.Context, q dbtx, adminID int64, month string) (*models.Bill, error) {
	b, err := scanBill(q.QueryRowContext(ctx, `
		SELECT `+billColumns+` FROM bills
		WHERE admin_id = ? AND bill_month <= ?
		ORDER BY bill_month DESC, created_at DESC, id DESC LIMIT 1
	`, adminID, month))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest bill: %w", err)
	}
	return b, nil
}
