package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aj9599/submeter-billing/crypto"
	"github.com/aj9599/submeter-billing/logger"
	"go.uber.org/zap"
)

// PaymentProfile is what tenants pay to.
type PaymentProfile struct {
	CompanyName string `json:"company_name"`
	UPIID       string `json:"upi_id"`
}

type ProfileService struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

func NewProfileService(db *sql.DB, sealer *crypto.Sealer) *ProfileService {
	return &ProfileService{db: db, sealer: sealer}
}

// UpdatePaymentProfile stores the admin's UPI id sealed at rest.
func (s *ProfileService) UpdatePaymentProfile(ctx context.Context, ac AdminContext, in PaymentProfile) (*PaymentProfile, error) {
	if err := ac.RequireAdmin(); err != nil {
		return nil, err
	}
	upi := strings.TrimSpace(in.UPIID)
	if upi != "" && (strings.Count(upi, "@") != 1 || strings.HasPrefix(upi, "@") || strings.HasSuffix(upi, "@")) {
		return nil, invalid("upi_id", "%q is not a UPI id (name@bank)", upi)
	}
	sealed, err := s.sealer.Seal(upi)
	if err != nil {
		return nil, fmt.Errorf("seal upi id: %w", err)
	}

	company := strings.TrimSpace(in.CompanyName)
	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET upi_id_sealed = ?, company_name = COALESCE(NULLIF(?, ''), company_name), updated_at = ?
		WHERE id = ?
	`, sealed, company, touch(), ac.AdminID)
	if err != nil {
		return nil, fmt.Errorf("update payment profile: %w", err)
	}

	logger.FromContext(ctx).Named("profile").Info("payment profile updated", zap.Int64("admin_id", ac.AdminID))
	return s.PaymentProfile(ctx, ac.AdminID)
}

func (s *ProfileService) PaymentProfile(ctx context.Context, adminID int64) (*PaymentProfile, error) {
	return loadPaymentProfile(ctx, s.db, s.sealer, adminID)
}

func loadPaymentProfile(ctx context.Context, q dbtx, sealer *crypto.Sealer, adminID int64) (*PaymentProfile, error) {
	var p PaymentProfile
	var sealed string
	err := q.QueryRowContext(ctx, "SELECT company_name, upi_id_sealed FROM users WHERE id = ?", adminID).Scan(&p.CompanyName, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("admin", adminID)
	}
	if err != nil {
		return nil, err
	}
	if sealer != nil {
		upi, err := sealer.Open(sealed)
		if err != nil {
			// A rotated key leaves the stored id unreadable; statements go out without a QR.
			logger.FromContext(ctx).Warn("cannot open sealed upi id", zap.Int64("admin_id", adminID), zap.Error(err))
		} else {
			p.UPIID = upi
		}
	}
	return &p, nil
}
