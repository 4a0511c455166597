package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/aj9599/submeter-billing/logger"
	"go.uber.org/zap"
)

// Mailer delivers password reset codes.
type Mailer interface {
	SendOTP(ctx context.Context, to, code string) error
}

// LogMailer is used when no SMTP server is configured.
type LogMailer struct{}

func (LogMailer) SendOTP(ctx context.Context, to, code string) error {
	logger.FromContext(ctx).Warn("smtp not configured, password reset code not mailed", zap.String("to", to))
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendOTP(ctx context.Context, to, code string) error {
	var body strings.Builder
	body.WriteString("<p>Your password reset code is:</p>")
	body.WriteString(fmt.Sprintf("<p style=\"font-size:24px;font-weight:bold;letter-spacing:4px\">%s</p>", code))
	body.WriteString("<p>The code expires shortly. Ignore this email if you did not request a reset.</p>")

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", m.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString("Subject: Password reset code\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body.String())

	done := make(chan error, 1)
	go func() {
		done <- m.send(to, []byte(msg.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send otp mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send otp mail: %w", ctx.Err())
	}
}

func (m *SMTPMailer) send(to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)

	if m.cfg.Port != 465 {
		return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, msg)
	}

	// Implicit TLS
	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 10 * time.Second}, "tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}
