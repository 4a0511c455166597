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
	"go.uber.org/zap"
)

// RejectionTemplates expands the reason codes the mobile app offers.
var RejectionTemplates = map[string]string{
	"blurry_photo":      "Photo is blurry, please retake it",
	"wrong_meter":       "Photo shows a different meter than the selected tenant",
	"value_mismatch":    "Entered value does not match the meter display",
	"meter_not_visible": "Meter display is not visible in the photo",
}

// Photo is an uploaded meter photo as received at the boundary.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

type ReadingService struct {
	db            *sql.DB
	docs          DocumentStore
	events        EventPublisher
	uploadTimeout time.Duration
}

func NewReadingService(db *sql.DB, docs DocumentStore, events EventPublisher, uploadTimeout time.Duration) *ReadingService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ReadingService{db: db, docs: docs, events: events, uploadTimeout: uploadTimeout}
}

// Submit records a Pending reading for one of the caller's company tenants.
// The photo is uploaded first; if the insert then fails the upload is removed.
func (s *ReadingService) Submit(ctx context.Context, ac AdminContext, tenantID int64, rawValue string, photo Photo) (*models.Reading, error) {
	log := logger.FromContext(ctx).Named("readings")

	value, err := ParseQuantity("closing_value", rawValue)
	if err != nil {
		return nil, err
	}
	if len(photo.Data) == 0 {
		return nil, invalid("photo", "is required")
	}
	if _, err := getTenant(ctx, s.db, ac.AdminID, tenantID); err != nil {
		return nil, err
	}

	doc, err := putWithTimeout(ctx, s.docs, s.uploadTimeout, FolderReadingPhotos, photo.Name, photo.ContentType, photo.Data)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("storage").Inc()
		log.Error("photo upload failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO readings (admin_id, tenant_id, closing_value, photo_url, photo_key, status, submitted_by, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ac.AdminID, tenantID, value, doc.URL, doc.Key, models.ReadingPending, ac.UserID, touch())
	if err != nil {
		discard(ctx, s.docs, doc.Key)
		return nil, fmt.Errorf("insert reading: %w", err)
	}

	id, _ := result.LastInsertId()
	metrics.ReadingsSubmitted.Inc()
	log.Info("reading submitted",
		zap.Int64("reading_id", id),
		zap.Int64("tenant_id", tenantID),
		zap.Float64("value", value),
		zap.Int64("submitted_by", ac.UserID))

	reading, err := getReading(ctx, s.db, ac.AdminID, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, ac.AdminID, EventReadingSubmitted, reading)
	return reading, nil
}

// Approve moves a Pending reading to Approved and adds its value to the
// tenant's running closing total, atomically. A reading can be approved at
// most once: a second attempt is a conflict and leaves the total untouched.
func (s *ReadingService) Approve(ctx context.Context, ac AdminContext, readingID int64) (*models.Reading, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx).Named("readings")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	decidedAt := touch()
	if err := decide(ctx, tx, ac, readingID, models.ReadingApproved, "", decidedAt); err != nil {
		return nil, err
	}

	var tenantID int64
	var value, before float64
	err = tx.QueryRowContext(ctx, `
		SELECT r.tenant_id, r.closing_value, t.current_closing
		FROM readings r JOIN tenants t ON t.id = r.tenant_id
		WHERE r.id = ?
	`, readingID).Scan(&tenantID, &value, &before)
	if err != nil {
		return nil, fmt.Errorf("load approved reading %d: %w", readingID, err)
	}
	after := before + value

	if _, err := tx.ExecContext(ctx,
		"UPDATE tenants SET current_closing = ?, last_updated = ? WHERE id = ? AND admin_id = ?",
		after, decidedAt, tenantID, ac.AdminID); err != nil {
		return nil, fmt.Errorf("advance tenant %d closing: %w", tenantID, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE readings SET closing_before = ?, closing_after = ? WHERE id = ?",
		before, after, readingID); err != nil {
		return nil, fmt.Errorf("record closing on reading %d: %w", readingID, err)
	}

	reading, err := getReading(ctx, tx, ac.AdminID, readingID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval: %w", err)
	}

	metrics.ReadingDecisions.WithLabelValues("approved").Inc()
	log.Info("reading approved",
		zap.Int64("reading_id", readingID),
		zap.Int64("tenant_id", tenantID),
		zap.Float64("closing_before", before),
		zap.Float64("closing_after", after))
	s.events.Publish(ctx, ac.AdminID, EventReadingApproved, reading)
	return reading, nil
}

// Reject moves a Pending reading to Rejected. The tenant is not touched.
func (s *ReadingService) Reject(ctx context.Context, ac AdminContext, readingID int64, reason string) (*models.Reading, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}
	if text, ok := RejectionTemplates[reason]; ok {
		reason = text
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := decide(ctx, tx, ac, readingID, models.ReadingRejected, reason, touch()); err != nil {
		return nil, err
	}
	reading, err := getReading(ctx, tx, ac.AdminID, readingID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit rejection: %w", err)
	}

	metrics.ReadingDecisions.WithLabelValues("rejected").Inc()
	logger.FromContext(ctx).Named("readings").Info("reading rejected",
		zap.Int64("reading_id", readingID), zap.String("reason", reason))
	s.events.Publish(ctx, ac.AdminID, EventReadingRejected, reading)
	return reading, nil
}

// decide performs the guarded Pending -> terminal transition.
func decide(ctx context.Context, tx *sql.Tx, ac AdminContext, readingID int64, status, reason string, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE readings SET status = ?, rejection_reason = ?, decided_by = ?, decided_at = ?
		WHERE id = ? AND admin_id = ? AND status = ?
	`, status, reason, ac.UserID, at, readingID, ac.AdminID, models.ReadingPending)
	if err != nil {
		return fmt.Errorf("decide reading %d: %w", readingID, err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM readings WHERE id = ? AND admin_id = ?", readingID, ac.AdminID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("reading", readingID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("reading %d is already %s: %w", readingID, current, ErrConflict)
}

// ReadingFilter narrows the admin's review list.
type ReadingFilter struct {
	Status   string
	TenantID int64
}

func (s *ReadingService) List(ctx context.Context, ac AdminContext, f ReadingFilter) ([]models.Reading, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	query := "SELECT " + readingColumns + " FROM readings r JOIN tenants t ON t.id = r.tenant_id WHERE r.admin_id = ?"
	args := []interface{}{ac.AdminID}

	switch f.Status {
	case "":
	case models.ReadingPending, models.ReadingApproved, models.ReadingRejected:
		query += " AND r.status = ?"
		args = append(args, f.Status)
	default:
		return nil, invalid("status", "must be Pending, Approved or Rejected")
	}
	if f.TenantID > 0 {
		query += " AND r.tenant_id = ?"
		args = append(args, f.TenantID)
	}
	query += " ORDER BY r.submitted_at DESC, r.id DESC"

	return s.query(ctx, query, args...)
}

// ListMine returns the caller's own submissions.
func (s *ReadingService) ListMine(ctx context.Context, ac AdminContext) ([]models.Reading, error) {
	return s.query(ctx,
		"SELECT "+readingColumns+" FROM readings r JOIN tenants t ON t.id = r.tenant_id WHERE r.admin_id = ? AND r.submitted_by = ? ORDER BY r.submitted_at DESC, r.id DESC",
		ac.AdminID, ac.UserID)
}

func (s *ReadingService) Get(ctx context.Context, ac AdminContext, id int64) (*models.Reading, error) {
	return getReading(ctx, s.db, ac.AdminID, id)
}

// ExportRows lists every reading submitted within the period for the
// spreadsheet export.
func (s *ReadingService) ExportRows(ctx context.Context, ac AdminContext, p Period) ([]models.ReadingExportRow, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.submitted_at, t.name, t.shop_number, t.meter_number,
			r.closing_value, r.status, r.rejection_reason, u.name, r.photo_url
		FROM readings r
		JOIN tenants t ON t.id = r.tenant_id
		JOIN users u ON u.id = r.submitted_by
		WHERE r.admin_id = ? AND r.submitted_at >= ? AND r.submitted_at < ?
		ORDER BY r.submitted_at, r.id
	`, ac.AdminID, p.Start, p.End)
	if err != nil {
		return nil, fmt.Errorf("export readings: %w", err)
	}
	defer rows.Close()

	out := []models.ReadingExportRow{}
	for rows.Next() {
		var row models.ReadingExportRow
		if err := rows.Scan(&row.ReadingID, &row.SubmittedAt, &row.TenantName, &row.ShopNumber, &row.MeterNumber,
			&row.ClosingValue, &row.Status, &row.Reason, &row.SubmittedBy, &row.PhotoURL); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const readingColumns = `
	r.id, r.admin_id, r.tenant_id, t.name, r.closing_value, r.photo_url, r.status,
	r.rejection_reason, r.submitted_by, r.submitted_at, r.decided_by, r.decided_at,
	r.closing_before, r.closing_after`

func scanReading(row interface{ Scan(...interface{}) error }) (*models.Reading, error) {
	var r models.Reading
	var decidedBy sql.NullInt64
	var decidedAt sql.NullTime
	var before, after sql.NullFloat64
	err := row.Scan(&r.ID, &r.AdminID, &r.TenantID, &r.TenantName, &r.ClosingValue, &r.PhotoURL, &r.Status,
		&r.RejectionReason, &r.SubmittedBy, &r.SubmittedAt, &decidedBy, &decidedAt, &before, &after)
	if err != nil {
		return nil, err
	}
	if decidedBy.Valid {
		r.DecidedBy = &decidedBy.Int64
	}
	if decidedAt.Valid {
		r.DecidedAt = &decidedAt.Time
	}
	if before.Valid {
		r.ClosingBefore = &before.Float64
	}
	if after.Valid {
		r.ClosingAfter = &after.Float64
	}
	return &r, nil
}

func getReading(ctx context.Context, q dbtx, adminID, id int64) (*models.Reading, error) {
	r, err := scanReading(q.QueryRowContext(ctx,
		"SELECT "+readingColumns+" FROM readings r JOIN tenants t ON t.id = r.tenant_id WHERE r.id = ? AND r.admin_id = ?",
		id, adminID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reading", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load reading %d: %w", id, err)
	}
	return r, nil
}

func (s *ReadingService) query(ctx context.Context, query string, args ...interface{}) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *r)
	}
	return readings, rows.Err()
}
