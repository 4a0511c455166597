package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/aj9599/submeter-billing/logger"
	"github.com/aj9599/submeter-billing/metrics"
	"github.com/aj9599/submeter-billing/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Claims are the verified identity a token carries.
type Claims struct {
	UserID  int64  `json:"user_id"`
	AdminID int64  `json:"admin_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	db       *sql.DB
	secret   []byte
	tokenTTL time.Duration
	otpTTL   time.Duration
	mailer   Mailer
}

func NewAuthService(db *sql.DB, secret string, tokenTTL, otpTTL time.Duration, mailer Mailer) *AuthService {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &AuthService{db: db, secret: []byte(secret), tokenTTL: tokenTTL, otpTTL: otpTTL, mailer: mailer}
}

type RegisterInput struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
	AdminCode   string `json:"admin_code"`
}

func (in RegisterInput) validate() (name, email string, err error) {
	if name, err = requireText("name", in.Name); err != nil {
		return "", "", err
	}
	if email, err = normalizeEmail(in.Email); err != nil {
		return "", "", err
	}
	if len(in.Password) < minPasswordLength {
		return "", "", invalid("password", "must be at least %d characters", minPasswordLength)
	}
	return name, email, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", invalid("email", "%q is not an email address", raw)
	}
	return email, nil
}

func newAdminCode() string {
	return "ADM-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// RegisterAdmin creates a company admin with a fresh admin code that its
// reading takers sign up with.
func (s *AuthService) RegisterAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	name, email, err := in.validate()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	company := strings.TrimSpace(in.CompanyName)
	if company == "" {
		company = name
	}

	var id int64
	for attempt := 0; attempt < 3; attempt++ {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO users (name, email, phone, password_hash, role, admin_code, company_name)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, name, email, strings.TrimSpace(in.Phone), string(hash), models.RoleAdmin, newAdminCode(), company)
		if err == nil {
			id, _ = result.LastInsertId()
			break
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("insert admin: %w", err)
		}
		if strings.Contains(err.Error(), "users.email") {
			return nil, fmt.Errorf("email %s is already registered: %w", email, ErrConflict)
		}
	}
	if id == 0 {
		return nil, fmt.Errorf("could not allocate a unique admin code: %w", ErrConflict)
	}

	logger.FromContext(ctx).Named("auth").Info("admin registered", zap.Int64("user_id", id), zap.String("email", email))
	return s.user(ctx, id)
}

// RegisterReadingTaker signs a staff member up under the admin owning AdminCode.
func (s *AuthService) RegisterReadingTaker(ctx context.Context, in RegisterInput) (*models.User, error) {
	name, email, err := in.validate()
	if err != nil {
		return nil, err
	}
	code, err := requireText("admin_code", in.AdminCode)
	if err != nil {
		return nil, err
	}

	var adminID int64
	var company string
	err = s.db.QueryRowContext(ctx,
		"SELECT id, company_name FROM users WHERE admin_code = ? AND role = ?", strings.ToUpper(code), models.RoleAdmin).
		Scan(&adminID, &company)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("admin code %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO users (name, email, phone, password_hash, role, belongs_to_admin, company_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, name, email, strings.TrimSpace(in.Phone), string(hash), models.RoleReadingTaker, adminID, company)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("email %s is already registered: %w", email, ErrConflict)
		}
		return nil, fmt.Errorf("insert reading taker: %w", err)
	}

	id, _ := result.LastInsertId()
	logger.FromContext(ctx).Named("auth").Info("reading taker registered",
		zap.Int64("user_id", id), zap.Int64("admin_id", adminID))
	return s.user(ctx, id)
}

type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var id int64
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT id, password_hash FROM users WHERE email = ?", email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		logger.FromContext(ctx).Named("auth").Warn("failed login", zap.String("email", email))
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}

	user, err := s.user(ctx, id)
	if err != nil {
		return nil, err
	}

	expiresAt := now().UTC().Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:  user.ID,
		AdminID: user.AdminID(),
		Role:    user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &LoginResult{Token: signed, ExpiresAt: expiresAt, User: *user}, nil
}

// ParseToken verifies a bearer token and returns the caller's context.
func (s *AuthService) ParseToken(raw string) (AdminContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(now))
	if err != nil {
		return AdminContext{}, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}
	if claims.UserID == 0 || claims.AdminID == 0 {
		return AdminContext{}, fmt.Errorf("token without identity: %w", ErrUnauthorized)
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleReadingTaker {
		return AdminContext{}, fmt.Errorf("token with unknown role %q: %w", claims.Role, ErrUnauthorized)
	}
	return AdminContext{AdminID: claims.AdminID, UserID: claims.UserID, Role: claims.Role}, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, ac AdminContext, oldPassword, newPassword string) error {
	var hash string
	if err := s.db.QueryRowContext(ctx, "SELECT password_hash FROM users WHERE id = ?", ac.UserID).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user", ac.UserID)
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("old password does not match: %w", ErrUnauthorized)
	}
	return s.setPassword(ctx, ac.UserID, newPassword)
}

func (s *AuthService) setPassword(ctx context.Context, userID int64, password string) error {
	if len(password) < minPasswordLength {
		return invalid("new_password", "must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ?, otp_hash = NULL, otp_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, string(hash), touch(), userID)
	return err
}

// ForgotPassword mails a one time code. Unknown addresses succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, rawEmail string) error {
	log := logger.FromContext(ctx).Named("auth")
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", email).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		log.Info("password reset for unknown email", zap.String("email", email))
		return nil
	}
	if err != nil {
		return err
	}

	code, err := newOTP()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE users SET otp_hash = ?, otp_expires_at = ? WHERE id = ?",
		string(hash), now().UTC().Add(s.otpTTL), id); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	if err := s.mailer.SendOTP(ctx, email, code); err != nil {
		metrics.UpstreamFailures.WithLabelValues("mail").Inc()
		log.Error("otp mail failed", zap.String("email", email), zap.Error(err))
		return upstream("send otp", err)
	}
	return nil
}

// ResetPassword sets a new password if code is the user's current,
// unexpired code. A code works once.
func (s *AuthService) ResetPassword(ctx context.Context, rawEmail, code, newPassword string) error {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	var id int64
	var hash sql.NullString
	var expires sql.NullTime
	err = s.db.QueryRowContext(ctx,
		"SELECT id, otp_hash, otp_expires_at FROM users WHERE email = ?", email).Scan(&id, &hash, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("invalid or expired code: %w", ErrUnauthorized)
	}
	if err != nil {
		return err
	}
	if !hash.Valid || !expires.Valid || now().After(expires.Time) {
		return fmt.Errorf("invalid or expired code: %w", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(strings.TrimSpace(code))); err != nil {
		return fmt.Errorf("invalid or expired code: %w", ErrUnauthorized)
	}

	if err := s.setPassword(ctx, id, newPassword); err != nil {
		return err
	}
	logger.FromContext(ctx).Named("auth").Info("password reset", zap.Int64("user_id", id))
	return nil
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *AuthService) user(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	var code sql.NullString
	var belongs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, role, admin_code, belongs_to_admin, company_name, created_at, updated_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &code, &belongs, &u.CompanyName, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	u.AdminCode = code.String
	if belongs.Valid {
		u.BelongsToAdmin = &belongs.Int64
	}
	return &u, nil
}

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, ac AdminContext) (*models.User, error) {
	return s.user(ctx, ac.UserID)
}
