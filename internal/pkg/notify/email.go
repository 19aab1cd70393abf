package notify

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/seranking/paygate/internal/pkg/config"
	"github.com/seranking/paygate/internal/pkg/security"
)

// EmailSender delivers buyer-facing mail. Two variants exist: a log-only
// sender for development and an SMTP sender; selection happens once at
// startup from EMAIL_DELIVERY_MODE.
type EmailSender interface {
	SendAccessEmail(email, orderID, activationLink, locale string) error
	SendOTP(email, otp string, allowPlainOTP bool, locale string) error
}

// BuildEmailSender selects the configured sender variant.
func BuildEmailSender(cfg *config.Config) EmailSender {
	if cfg.EmailDeliveryMode == "smtp" {
		return NewSMTPSender(cfg)
	}
	return &LogOnlySender{}
}

// LogOnlySender records deliveries without sending anything. Tokens stay out
// of the log: only the link prefix before the start payload is printed.
type LogOnlySender struct{}

func (s *LogOnlySender) SendAccessEmail(email, orderID, activationLink, locale string) error {
	masked := "***"
	if idx := strings.Index(activationLink, "start="); idx >= 0 {
		masked = activationLink[:idx] + "start=***"
	}
	log.Printf("email_delivery_skipped order_id=%s email=%s activation_link=%s locale=%s",
		orderID, security.MaskEmail(email), masked, locale)
	return nil
}

func (s *LogOnlySender) SendOTP(email, otp string, allowPlainOTP bool, locale string) error {
	if allowPlainOTP {
		log.Printf("otp_delivery_skipped email=%s locale=%s otp=%s", security.MaskEmail(email), locale, otp)
	} else {
		log.Printf("otp_delivery_skipped email=%s locale=%s", security.MaskEmail(email), locale)
	}
	return nil
}

// SMTPSender sends mail through an SMTP relay, upgrading to STARTTLS when the
// server offers it. Every delivery is bounded by the configured timeout.
type SMTPSender struct {
	host     string
	port     string
	login    string
	password string
	sender   string
	timeout  time.Duration
}

func NewSMTPSender(cfg *config.Config) *SMTPSender {
	sender := cfg.SMTPFromEmail
	if sender == "" {
		sender = cfg.SMTPLogin
	}
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		login:    cfg.SMTPLogin,
		password: cfg.SMTPPassword,
		sender:   sender,
		timeout:  cfg.SMTPTimeout,
	}
}

func (s *SMTPSender) SendAccessEmail(email, orderID, activationLink, locale string) error {
	var subject, body string
	if normalizeLocale(locale) == "ru" {
		subject = "Seranking: активация доступа"
		body = "Оплата подтверждена.\n\n" +
			"Заказ: " + orderID + "\n" +
			"Ссылка активации: " + activationLink + "\n\n" +
			"Если это письмо отправлено не вам, просто игнорируйте его."
	} else {
		subject = "Seranking: access activation"
		body = "Payment confirmed.\n\n" +
			"Order: " + orderID + "\n" +
			"Activation link: " + activationLink + "\n\n" +
			"If you did not request this email, ignore it."
	}
	if err := s.send(email, subject, body); err != nil {
		return err
	}
	log.Printf("email_delivery_sent order_id=%s email=%s", orderID, security.MaskEmail(email))
	return nil
}

func (s *SMTPSender) SendOTP(email, otp string, allowPlainOTP bool, locale string) error {
	var subject, body string
	if normalizeLocale(locale) == "ru" {
		subject = "Seranking: код восстановления"
		body = "Ваш OTP-код восстановления:\n\n" + otp + "\n\nКод одноразовый и скоро истечет."
	} else {
		subject = "Seranking: restore OTP"
		body = "Your restore OTP code:\n\n" + otp + "\n\nThe code is one-time and expires soon."
	}
	if err := s.send(email, subject, body); err != nil {
		return err
	}
	if allowPlainOTP {
		log.Printf("otp_delivery_sent email=%s otp=%s", security.MaskEmail(email), otp)
	} else {
		log.Printf("otp_delivery_sent email=%s", security.MaskEmail(email))
	}
	return nil
}

func (s *SMTPSender) send(to, subject, body string) error {
	if s.login == "" || s.password == "" || s.sender == "" {
		return fmt.Errorf("smtp credentials are not fully configured")
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", s.sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	// The timeout covers the whole SMTP conversation, not just the dial; a
	// stalled relay must not hold a webhook handler open.
	conn, err := net.DialTimeout("tcp", s.host+":"+s.port, s.timeout)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if err := client.Auth(smtp.PlainAuth("", s.login, s.password, s.host)); err != nil {
		return err
	}
	if err := client.Mail(s.sender); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func normalizeLocale(locale string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "ru") {
		return "ru"
	}
	return "en"
}
