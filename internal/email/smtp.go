package email

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"
)

// sendFunc matches smtp.SendMail so tests can capture outgoing messages.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// kind describes one transactional message: the HTML template file, the
// subject suffix and the plain-text alternative.
type kind struct {
	html    string
	subject string
	text    *texttemplate.Template
}

var (
	passwordReset = kind{
		html:    "password_reset.html",
		subject: "Password Reset",
		text: texttemplate.Must(texttemplate.New("password_reset").Parse(`Hi {{.Name}},

Someone requested that the password be reset for your account on {{.SiteName}}.

If this was a mistake, just ignore this email and nothing will happen.

To reset your password, visit the following address:

{{.ResetURL}}
`)),
	}

	accountCreated = kind{
		html:    "account_created.html",
		subject: "Your username and password info",
		text: texttemplate.Must(texttemplate.New("account_created").Parse(`Hi {{.Name}},

Username: {{.Login}}

To set your password, visit the following address:

{{.SetPasswordURL}}
`)),
	}

	adminNewUser = kind{
		html:    "admin_new_user.html",
		subject: "New User Registration",
		text: texttemplate.Must(texttemplate.New("admin_new_user").Parse(`New user registration on your site {{.SiteName}}:

Username: {{.Login}}

Email: {{.Email}}
`)),
	}
)

// SMTPEmailService delivers mail through an SMTP relay. HTML templates are
// parsed once from an fs.FS, normally the embedded web package.
type SMTPEmailService struct {
	config    SMTPConfig
	siteName  string
	from      mail.Address
	templates *template.Template
	logger    *slog.Logger
	sendMail  sendFunc
	now       func() time.Time
}

// NewSMTPEmailService parses the HTML templates matching pattern in fsys,
// for example "templates/email/*.html".
func NewSMTPEmailService(
	config SMTPConfig,
	siteName string,
	fsys fs.FS,
	pattern string,
	logger *slog.Logger,
) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}
	if siteName == "" {
		siteName = config.FromName
	}

	templates, err := template.New("email").Funcs(template.FuncMap{
		"currentYear": func() int { return time.Now().Year() },
	}).ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	return &SMTPEmailService{
		config:    config,
		siteName:  siteName,
		from:      mail.Address{Name: config.FromName, Address: config.From},
		templates: templates,
		logger:    logger,
		sendMail:  smtp.SendMail,
		now:       time.Now,
	}, nil
}

// SendPasswordResetEmail sends a password reset link to a user.
func (s *SMTPEmailService) SendPasswordResetEmail(ctx context.Context, to, name, resetURL string) error {
	return s.deliver(ctx, to, passwordReset, map[string]any{
		"Name":     name,
		"ResetURL": resetURL,
	})
}

// SendAccountCreatedEmail sends login details to a newly registered user.
func (s *SMTPEmailService) SendAccountCreatedEmail(ctx context.Context, to, name, login, setPasswordURL string) error {
	return s.deliver(ctx, to, accountCreated, map[string]any{
		"Name":           name,
		"Login":          login,
		"SetPasswordURL": setPasswordURL,
	})
}

// SendAdminNewUserEmail notifies an administrator of a new registration.
func (s *SMTPEmailService) SendAdminNewUserEmail(ctx context.Context, to, newLogin, newEmail string) error {
	return s.deliver(ctx, to, adminNewUser, map[string]any{
		"Login": newLogin,
		"Email": newEmail,
	})
}

func (s *SMTPEmailService) deliver(ctx context.Context, to string, k kind, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data["SiteName"] = s.siteName

	var html, text bytes.Buffer
	if err := s.templates.ExecuteTemplate(&html, k.html, data); err != nil {
		return fmt.Errorf("render %s: %w", k.html, err)
	}
	if err := k.text.Execute(&text, data); err != nil {
		return fmt.Errorf("render %s text: %w", k.html, err)
	}

	email := Email{
		To:       to,
		Subject:  fmt.Sprintf("[%s] %s", s.siteName, k.subject),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}
	msg, err := s.compose(email)
	if err != nil {
		return fmt.Errorf("compose %s: %w", k.html, err)
	}

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if err := s.sendMail(addr, auth, s.config.From, []string{email.To}, msg); err != nil {
		s.logger.Error("email delivery failed", "to", email.To, "subject", email.Subject, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("email sent", "to", email.To, "subject", email.Subject)
	return nil
}

// compose builds a multipart/alternative message with a text part followed
// by the HTML part. Header values pass through mime encoding so a CR or LF
// in user input cannot start a new header.
func (s *SMTPEmailService) compose(email Email) ([]byte, error) {
	to, err := mail.ParseAddress(email.To)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", email.To, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", email.TextBody},
		{"text/html; charset=utf-8", email.HTMLBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(crlf(part.content))); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", s.from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", stripNewlines(email.Subject)))
	header("Date", s.now().Format(time.RFC1123Z))
	header("Message-ID", s.messageID())
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": mw.Boundary()}))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func (s *SMTPEmailService) messageID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	domain := "localhost"
	if at := strings.LastIndexByte(s.config.From, '@'); at >= 0 {
		domain = s.config.From[at+1:]
	}
	return "<" + hex.EncodeToString(b) + "@" + domain + ">"
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

var _ EmailService = (*SMTPEmailService)(nil)
