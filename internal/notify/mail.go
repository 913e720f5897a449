package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/GenomiqueENS/aozan/internal/config"
)

const smtpDialTimeout = 30 * time.Second

// SMTPSender delivers messages by mail.
type SMTPSender struct {
	cfg config.MailConfig
	now func() time.Time
}

// NewSMTPSender creates a mail sender. Header and footer of cfg wrap every body.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, now: time.Now}
}

// Recipients returns the addresses a message goes to. Error messages go to
// mail.error.to when it is set.
func (s *SMTPSender) Recipients(isError bool) []string {
	to := s.cfg.To
	if isError && s.cfg.ErrorTo != "" {
		to = s.cfg.ErrorTo
	}
	return strings.FieldsFunc(to, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
}

// Send delivers msg through the configured relay.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	recipients := s.Recipients(msg.Error)
	if len(recipients) == 0 {
		return fmt.Errorf("no mail recipient configured for %q", msg.Subject)
	}
	if s.cfg.SMTP.Server == "" {
		return fmt.Errorf("no SMTP server configured for %q", msg.Subject)
	}

	data, err := s.buildMessage(msg, recipients)
	if err != nil {
		return err
	}

	host := s.cfg.SMTP.Server
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.SMTP.Port))

	dialer := &net.Dialer{Timeout: smtpDialTimeout}
	var conn net.Conn
	if s.cfg.SMTP.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open SMTP session with %s: %w", addr, err)
	}
	defer client.Close()

	if s.cfg.SMTP.UseStartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	if s.cfg.SMTP.Login != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.SMTP.Login, s.cfg.SMTP.Password, host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("SMTP MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s rejected: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA rejected: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write mail: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return client.Quit()
}

// buildMessage renders msg as an RFC 5322 message, multipart when it has an attachment.
func (s *SMTPSender) buildMessage(msg Message, recipients []string) ([]byte, error) {
	var buf bytes.Buffer
	body := s.cfg.Header + msg.Body + s.cfg.Footer

	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.Attachment == "" {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(toCRLF(body))
		return buf.Bytes(), nil
	}

	content, err := os.ReadFile(msg.Attachment)
	if err != nil {
		return nil, fmt.Errorf("failed to read mail attachment: %w", err)
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", mw.Boundary())

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	text.Write([]byte(toCRLF(body)))

	name := filepath.Base(msg.Attachment)
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {ctype + "; name=\"" + name + "\""},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {"attachment; filename=\"" + name + "\""},
	})
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(content)
	for len(encoded) > 76 {
		part.Write([]byte(encoded[:76] + "\r\n"))
		encoded = encoded[76:]
	}
	part.Write([]byte(encoded + "\r\n"))

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toCRLF(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\r\n", "\n"), "\n", "\r\n")
}
