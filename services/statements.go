package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aj9599/submeter-billing/crypto"
	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/metrics"
	"github.com/aj9599/submeter-billing/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const renderParallelism = 4

// TenantInvoice is a computed, not yet saved, statement line.
type TenantInvoice struct {
	StatementNumber string        `json:"statement_number"`
	Tenant          TenantPeriod  `json:"tenant"`
	Invoice         InvoiceResult `json:"invoice"`
}

type StatementPreview struct {
	Report           *ReconcileReport `json:"report"`
	Invoices         []TenantInvoice  `json:"invoices"`
	TenantCollection float64          `json:"tenant_collection"`
	GridBillAmount   float64          `json:"grid_bill_amount"`
	Profit           float64          `json:"profit"`
}

type SaveStatementsRequest struct {
	Month     string  `json:"month"`
	TenantIDs []int64 `json:"tenant_ids"`
	Replace   bool    `json:"replace"`
}

type StatementService struct {
	db            *sql.DB
	docs          DocumentStore
	renderer      PDFRenderer
	events        EventPublisher
	sealer        *crypto.Sealer
	uploadTimeout time.Duration
}

func NewStatementService(db *sql.DB, docs DocumentStore, renderer PDFRenderer, events EventPublisher, sealer *crypto.Sealer, uploadTimeout time.Duration) *StatementService {
	if events == nil {
		events = NopPublisher{}
	}
	return &StatementService{
		db:            db,
		docs:          docs,
		renderer:      renderer,
		events:        events,
		sealer:        sealer,
		uploadTimeout: uploadTimeout,
	}
}

func statementNumber(adminID, tenantID int64, p Period) string {
	return fmt.Sprintf("STM-%d-%d-%s", adminID, tenantID, p.Start.Format("200601"))
}

// Preview computes every tenant's invoice for the period without saving.
func (s *StatementService) Preview(ctx context.Context, ac AdminContext, p Period) (*StatementPreview, error) {
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
	return buildPreview(ac.AdminID, p, report), nil
}

func buildPreview(adminID int64, p Period, report *ReconcileReport) *StatementPreview {
	pool := report.DGPool()
	preview := &StatementPreview{Report: report, Invoices: make([]TenantInvoice, 0, len(report.Tenants))}

	collection := decimal.Zero
	for _, t := range report.Tenants {
		inv := ComputeInvoice(InvoiceInput{
			Units:           t.Units,
			RatePerUnit:     t.RatePerUnit,
			FixedCharge:     t.FixedCharge,
			TransformerLoss: t.TransformerLoss,
			DGConnected:     t.DGConnected,
			DG:              pool,
		})
		collection = collection.Add(decimal.NewFromFloat(inv.TotalAmount))
		preview.Invoices = append(preview.Invoices, TenantInvoice{
			StatementNumber: statementNumber(adminID, t.TenantID, p),
			Tenant:          t,
			Invoice:         inv,
		})
	}

	preview.TenantCollection = toFloat(collection)
	// An earlier month's bill still supplies grid units, but its amount was
	// already charged against that month.
	if report.Bill != nil && report.Bill.BillMonth == p.Month() {
		preview.GridBillAmount = report.Bill.TotalAmount
	}
	preview.Profit = toFloat(collection.Sub(decimal.NewFromFloat(preview.GridBillAmount)).Round(2))
	return preview
}

// Save renders and stores statements for the month's tenants (all of them
// unless TenantIDs narrows the batch) and refreshes the month's business
// summary. The batch is all or nothing: a rendering, upload or database
// failure leaves no statement saved and no document behind.
func (s *StatementService) Save(ctx context.Context, ac AdminContext, req SaveStatementsRequest) ([]models.Statement, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).Named("statements")

	if strings.TrimSpace(req.Month) == "" {
		return nil, invalid("month", "is required")
	}
	period, err := ParseMonth("month", req.Month)
	if err != nil {
		return nil, err
	}

	preview, err := s.Preview(ctx, ac, period)
	if err != nil {
		return nil, err
	}
	batch, err := selectInvoices(preview.Invoices, req.TenantIDs)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, invalid("tenant_ids", "no tenants to bill for %s", period.Month())
	}
	if !req.Replace {
		if err := s.ensureUnsaved(ctx, ac.AdminID, period, batch); err != nil {
			return nil, err
		}
	}

	profile, err := loadPaymentProfile(ctx, s.db, s.sealer, ac.AdminID)
	if err != nil {
		return nil, err
	}

	docs, err := s.renderAll(ctx, profile, preview.Report, batch)
	if err != nil {
		log.Error("statement rendering failed", zap.String("month", period.Month()), zap.Error(err))
		return nil, err
	}
	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = d.Key
	}

	saved, replacedKeys, err := s.persist(ctx, ac.AdminID, period, req.Replace, preview, batch, docs)
	if err != nil {
		discard(ctx, s.docs, keys...)
		return nil, err
	}
	if len(replacedKeys) > 0 {
		discard(ctx, s.docs, replacedKeys...)
	}

	metrics.StatementsGenerated.Add(float64(len(saved)))
	log.Info("statements saved",
		zap.String("month", period.Month()),
		zap.Int("count", len(saved)),
		zap.Bool("replace", req.Replace))
	s.events.Publish(ctx, ac.AdminID, EventStatementsSaved, map[string]interface{}{
		"month":      period.Month(),
		"statements": len(saved),
	})
	return saved, nil
}

func selectInvoices(all []TenantInvoice, tenantIDs []int64) ([]TenantInvoice, error) {
	if len(tenantIDs) == 0 {
		return all, nil
	}
	byID := make(map[int64]TenantInvoice, len(all))
	for _, inv := range all {
		byID[inv.Tenant.TenantID] = inv
	}
	out := make([]TenantInvoice, 0, len(tenantIDs))
	seen := make(map[int64]bool, len(tenantIDs))
	for _, id := range tenantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		inv, ok := byID[id]
		if !ok {
			return nil, notFound("tenant", id)
		}
		out = append(out, inv)
	}
	return out, nil
}

func (s *StatementService) ensureUnsaved(ctx context.Context, adminID int64, p Period, batch []TenantInvoice) error {
	for _, inv := range batch {
		var existing string
		err := s.db.QueryRowContext(ctx,
			"SELECT statement_number FROM statements WHERE admin_id = ? AND tenant_id = ? AND period = ?",
			adminID, inv.Tenant.TenantID, p.Month()).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("statement %s already exists for %s: %w", existing, inv.Tenant.Name, ErrConflict)
	}
	return nil
}

// renderAll turns each invoice into an uploaded PDF with bounded
// parallelism. On failure every document uploaded so far is removed.
func (s *StatementService) renderAll(ctx context.Context, profile *PaymentProfile, report *ReconcileReport, batch []TenantInvoice) ([]StoredDocument, error) {
	docs := make([]StoredDocument, len(batch))

	var mu sync.Mutex
	var uploaded []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderParallelism)
	for i, inv := range batch {
		i, inv := i, inv
		g.Go(func() error {
			view := statementView{
				Number:  inv.StatementNumber,
				Company: profile.CompanyName,
				Period:  report.Period,
				From:    report.From,
				To:      report.To,
				Tenant:  inv.Tenant,
				Invoice: inv.Invoice,
				UPIID:   profile.UPIID,
			}
			if profile.UPIID != "" {
				qr, err := paymentQRCode(profile.UPIID, profile.CompanyName, inv.Invoice.TotalAmount, inv.StatementNumber)
				if err != nil {
					return err
				}
				view.QRCode = qr
			}

			html, err := renderStatementHTML(view)
			if err != nil {
				return err
			}
			pdf, err := s.renderer.Render(gctx, html)
			if err != nil {
				metrics.UpstreamFailures.WithLabelValues("pdf").Inc()
				return upstream("render statement "+inv.StatementNumber, err)
			}

			doc, err := putWithTimeout(gctx, s.docs, s.uploadTimeout, FolderStatements, inv.StatementNumber+".pdf", "application/pdf", pdf)
			if err != nil {
				metrics.UpstreamFailures.WithLabelValues("storage").Inc()
				return err
			}
			mu.Lock()
			uploaded = append(uploaded, doc.Key)
			mu.Unlock()
			docs[i] = doc
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		discard(ctx, s.docs, uploaded...)
		return nil, err
	}
	return docs, nil
}

// persist writes the batch and the month's summary in one transaction and
// returns the document keys of statements it replaced.
func (s *StatementService) persist(ctx context.Context, adminID int64, p Period, replace bool, preview *StatementPreview, batch []TenantInvoice, docs []StoredDocument) ([]models.Statement, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var replaced []string
	createdAt := touch()
	ids := make([]int64, 0, len(batch))
	for i, inv := range batch {
		if replace {
			var oldKey string
			err := tx.QueryRowContext(ctx,
				"SELECT document_key FROM statements WHERE admin_id = ? AND tenant_id = ? AND period = ?",
				adminID, inv.Tenant.TenantID, p.Month()).Scan(&oldKey)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return nil, nil, err
			default:
				if _, err := tx.ExecContext(ctx,
					"DELETE FROM statements WHERE admin_id = ? AND tenant_id = ? AND period = ?",
					adminID, inv.Tenant.TenantID, p.Month()); err != nil {
					return nil, nil, fmt.Errorf("replace statement: %w", err)
				}
				if oldKey != "" {
					replaced = append(replaced, oldKey)
				}
			}
		}

		t, r := inv.Tenant, inv.Invoice
		result, err := tx.ExecContext(ctx, `
			INSERT INTO statements (
				admin_id, tenant_id, statement_number, period, opening_reading, closing_reading, units,
				rate_per_unit, energy_charge, fixed_charge, transformer_loss_charge, dg_charge, total_amount,
				document_url, document_key, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, adminID, t.TenantID, inv.StatementNumber, p.Month(), t.OpeningReading, t.ClosingReading, r.Units,
			r.RatePerUnit, r.EnergyCharge, r.FixedCharge, r.TransformerLossCharge, r.DGCharge, r.TotalAmount,
			docs[i].URL, docs[i].Key, createdAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, nil, fmt.Errorf("statement for %s in %s already exists: %w", t.Name, p.Month(), ErrConflict)
			}
			return nil, nil, fmt.Errorf("insert statement: %w", err)
		}
		id, _ := result.LastInsertId()
		ids = append(ids, id)
	}

	if err := refreshSummary(ctx, tx, adminID, p.Month(), preview.Report.Reconciliation, preview.GridBillAmount); err != nil {
		return nil, nil, err
	}

	saved := make([]models.Statement, 0, len(ids))
	for _, id := range ids {
		st, err := getStatement(ctx, tx, adminID, id)
		if err != nil {
			return nil, nil, err
		}
		saved = append(saved, *st)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit statements: %w", err)
	}
	return saved, replaced, nil
}

// refreshSummary recomputes the month's collection from the statements
// currently saved and upserts the summary.
func refreshSummary(ctx context.Context, q dbtx, adminID int64, month string, r Reconciliation, gridBill float64) error {
	var collection float64
	if err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(total_amount), 0) FROM statements WHERE admin_id = ? AND period = ?",
		adminID, month).Scan(&collection); err != nil {
		return fmt.Errorf("sum statements: %w", err)
	}
	return upsertSummary(ctx, q, adminID, SummaryInput{
		Month:            month,
		Reconciliation:   r,
		TenantCollection: collection,
		GridBillAmount:   gridBill,
	})
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const statementColumns = `
	s.id, s.admin_id, s.tenant_id, t.name, s.statement_number, s.period, s.opening_reading, s.closing_reading,
	s.units, s.rate_per_unit, s.energy_charge, s.fixed_charge, s.transformer_loss_charge, s.dg_charge,
	s.total_amount, s.document_url, s.created_at`

func scanStatement(row interface{ Scan(...interface{}) error }) (*models.Statement, error) {
	var st models.Statement
	err := row.Scan(&st.ID, &st.AdminID, &st.TenantID, &st.TenantName, &st.StatementNumber, &st.Period,
		&st.OpeningReading, &st.ClosingReading, &st.Units, &st.RatePerUnit, &st.EnergyCharge, &st.FixedCharge,
		&st.TransformerLossCharge, &st.DGCharge, &st.TotalAmount, &st.DocumentURL, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func getStatement(ctx context.Context, q dbtx, adminID, id int64) (*models.Statement, error) {
	st, err := scanStatement(q.QueryRowContext(ctx,
		"SELECT "+statementColumns+" FROM statements s JOIN tenants t ON t.id = s.tenant_id WHERE s.id = ? AND s.admin_id = ?",
		id, adminID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("statement", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load statement %d: %w", id, err)
	}
	return st, nil
}

func (s *StatementService) Get(ctx context.Context, ac AdminContext, id int64) (*models.Statement, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	return getStatement(ctx, s.db, ac.AdminID, id)
}

// List returns the month's saved statements; an empty month lists all.
func (s *StatementService) List(ctx context.Context, ac AdminContext, month string) ([]models.Statement, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	query := "SELECT " + statementColumns + " FROM statements s JOIN tenants t ON t.id = s.tenant_id WHERE s.admin_id = ?"
	args := []interface{}{ac.AdminID}
	if strings.TrimSpace(month) != "" {
		p, err := ParseMonth("month", month)
		if err != nil {
			return nil, err
		}
		query += " AND s.period = ?"
		args = append(args, p.Month())
	}
	query += " ORDER BY s.period DESC, t.shop_number, t.name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list statements: %w", err)
	}
	defer rows.Close()

	out := []models.Statement{}
	for rows.Next() {
		st, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// Delete removes a saved statement and its document, and lowers the month's
// collection accordingly.
func (s *StatementService) Delete(ctx context.Context, ac AdminContext, id int64) error {
	if err := ac.RequireAdmin(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var period, key string
	err = tx.QueryRowContext(ctx,
		"SELECT period, document_key FROM statements WHERE id = ? AND admin_id = ?", id, ac.AdminID).Scan(&period, &key)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("statement", id)
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM statements WHERE id = ? AND admin_id = ?", id, ac.AdminID); err != nil {
		return fmt.Errorf("delete statement %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE business_summaries SET
			tenant_collection = (SELECT COALESCE(SUM(total_amount), 0) FROM statements WHERE admin_id = ? AND period = ?),
			updated_at = ?
		WHERE admin_id = ? AND month = ?
	`, ac.AdminID, period, touch(), ac.AdminID, period); err != nil {
		return fmt.Errorf("update summary collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE business_summaries SET profit = ROUND(tenant_collection - grid_bill_amount, 2) WHERE admin_id = ? AND month = ?",
		ac.AdminID, period); err != nil {
		return fmt.Errorf("update summary profit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if key != "" {
		discard(ctx, s.docs, key)
	}
	logger.FromContext(ctx).Named("statements").Info("statement deleted", zap.Int64("statement_id", id), zap.String("period", period))
	return nil
}
