// -----------------------------------------------------------------------
// Mailer Service - SMTP delivery of the end-of-run notification
// -----------------------------------------------------------------------

package mailer

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/adsum/internal/common"
	"github.com/ternarybob/adsum/internal/interfaces"
)

// Service sends plain-text emails with optional attachments using the
// SMTP settings from the [mail] config section.
type Service struct {
	config common.MailConfig
	logger arbor.ILogger
}

// NewService creates a mailer from configuration.
func NewService(config common.MailConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

// IsConfigured checks whether the minimum SMTP settings are present.
func (s *Service) IsConfigured() bool {
	c := s.config
	return c.Host != "" && c.Username != "" && c.Password != "" && c.From != "" && c.To != ""
}

// Send delivers one message to the configured recipient.
func (s *Service) Send(ctx context.Context, subject, textBody string, attachments []interfaces.MailAttachment) error {
	if !s.IsConfigured() {
		return fmt.Errorf("SMTP not configured")
	}

	msg := s.buildMessage(subject, textBody, attachments)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)

	var err error
	if s.config.UseTLS {
		err = s.sendWithTLS(addr, auth, msg)
	} else {
		err = smtp.SendMail(addr, auth, s.config.From, []string{s.config.To}, []byte(msg))
	}
	if err != nil {
		return err
	}

	s.logger.Debug().
		Str("to", s.config.To).
		Str("subject", subject).
		Int("attachments", len(attachments)).
		Msg("Email delivered")
	return nil
}

// buildMessage assembles the MIME message. Attachments force a
// multipart/mixed envelope; body content is base64-encoded so long
// lines stay within RFC 5322 limits.
func (s *Service) buildMessage(subject, textBody string, attachments []interfaces.MailAttachment) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s <%s>\r\n", s.config.FromName, s.config.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", s.config.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))

	if len(attachments) == 0 {
		msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
		msg.WriteString("\r\n")
		msg.WriteString(textBody)
		return msg.String()
	}

	boundary := generateBoundary()
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary))
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(encodeBase64WithLineBreaks([]byte(textBody)))
	msg.WriteString("\r\n")

	for _, att := range attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", contentType, att.Filename))
		msg.WriteString("Content-Transfer-Encoding: base64\r\n")
		msg.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n", att.Filename))
		msg.WriteString("\r\n")
		msg.WriteString(encodeBase64WithLineBreaks(att.Content))
		msg.WriteString("\r\n")
	}

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return msg.String()
}

// sendWithTLS uses a direct TLS connection, falling back to STARTTLS
// when the server does not accept implicit TLS.
func (s *Service) sendWithTLS(addr string, auth smtp.Auth, msg string) error {
	host := strings.Split(addr, ":")[0]

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return s.sendWithSTARTTLS(addr, auth, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return s.transmit(client, auth, msg)
}

// sendWithSTARTTLS connects in plaintext and upgrades.
func (s *Service) sendWithSTARTTLS(addr string, auth smtp.Auth, msg string) error {
	host := strings.Split(addr, ":")[0]

	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return s.transmit(client, auth, msg)
}

func (s *Service) transmit(client *smtp.Client, auth smtp.Auth, msg string) error {
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}
	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	if err := client.Rcpt(s.config.To); err != nil {
		return fmt.Errorf("failed to set mail recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// generateBoundary creates a unique MIME boundary string.
func generateBoundary() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "adsum_boundary_fallback"
	}
	return fmt.Sprintf("adsum_%x", b)
}

// encodeBase64WithLineBreaks encodes content with 76-char line breaks
// per RFC 2045.
func encodeBase64WithLineBreaks(content []byte) string {
	encoded := base64.StdEncoding.EncodeToString(content)

	var result strings.Builder
	const lineLen = 76
	for i := 0; i < len(encoded); i += lineLen {
		end := i + lineLen
		if end > len(encoded) {
			end = len(encoded)
		}
		result.WriteString(encoded[i:end])
		if end < len(encoded) {
			result.WriteString("\r\n")
		}
	}
	return result.String()
}
