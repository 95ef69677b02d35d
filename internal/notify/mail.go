package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// SecretAccessor reads a secret version's payload. Implemented by the
// Secret Manager client.
type SecretAccessor interface {
	AccessSecret(ctx context.Context, path string) ([]byte, error)
}

// MailServiceOptions configure SMTP delivery.
type MailServiceOptions struct {
	// Host is the SMTP server in "host:port" notation.
	Host string

	// Sender is the From address.
	Sender string

	Username string

	// Password authenticates the SMTP session. Alternatively,
	// PasswordSecretPath names a Secret Manager version to read the
	// password from, in "projects/x/secrets/y/versions/z" notation.
	Password           string
	PasswordSecretPath string
}

// MailService delivers notifications as HTML mail over SMTP.
type MailService struct {
	templates *template.Template
	password  string
	options   MailServiceOptions
}

func NewMailService(ctx context.Context, secrets SecretAccessor, options MailServiceOptions) (*MailService, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse mail templates: %w", err)
	}

	password := options.Password
	if password == "" && options.PasswordSecretPath != "" {
		payload, err := secrets.AccessSecret(ctx, options.PasswordSecretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SMTP password secret: %w", err)
		}
		password = strings.TrimSpace(string(payload))
	}

	return &MailService{
		templates: templates,
		password:  password,
		options:   options,
	}, nil
}

// CanSend reports whether an SMTP host is configured.
func (s *MailService) CanSend() bool {
	return s.options.Host != ""
}

func (s *MailService) Send(ctx context.Context, notification *Notification) error {
	if len(notification.ToRecipients) == 0 {
		return nil
	}

	body, err := s.render(notification)
	if err != nil {
		return err
	}

	to := make([]string, 0, len(notification.ToRecipients))
	for _, recipient := range notification.ToRecipients {
		to = append(to, recipient.Email)
	}
	cc := make([]string, 0, len(notification.CCRecipients))
	for _, recipient := range notification.CCRecipients {
		cc = append(cc, recipient.Email)
	}

	var message bytes.Buffer
	fmt.Fprintf(&message, "From: %s\r\n", s.options.Sender)
	fmt.Fprintf(&message, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&message, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&message, "Subject: %s\r\n", notification.Subject)
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	message.WriteString("\r\n")
	message.Write(body)

	var auth smtp.Auth
	if s.options.Username != "" {
		host := s.options.Host
		if index := strings.IndexByte(host, ':'); index >= 0 {
			host = host[:index]
		}
		auth = smtp.PlainAuth("", s.options.Username, s.password, host)
	}

	return smtp.SendMail(
		s.options.Host,
		auth,
		s.options.Sender,
		append(to, cc...),
		message.Bytes())
}

func (s *MailService) render(notification *Notification) ([]byte, error) {
	name := templateName(notification.Type)
	if s.templates.Lookup(name) == nil {
		return nil, fmt.Errorf("no mail template for %s notifications", notification.Type)
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, name, notification.Properties); err != nil {
		return nil, fmt.Errorf("failed to render %s mail: %w", notification.Type, err)
	}
	return body.Bytes(), nil
}

func templateName(notificationType string) string {
	switch notificationType {
	case TypeActivationRequested:
		return "activation_requested.html"
	case TypeActivationApproved:
		return "activation_approved.html"
	default:
		return ""
	}
}
