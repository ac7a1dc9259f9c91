package email

import (
	"bytes"
	"context"
	"fmt"
	htmltpl "html/template"
	"log/slog"
	"net/url"
	"strings"
	texttpl "text/template"
	"time"

	"github.com/sandeepkv93/finance-tracker-auth/internal/service"
)

type messageVars struct {
	Email     string
	Link      string
	ExpiresIn string
}

type messageTemplate struct {
	subject string
	path    string
	html    *htmltpl.Template
	text    *texttpl.Template
}

var templates = map[service.NotificationPurpose]messageTemplate{
	service.PurposeVerifyEmail: {
		subject: "Verify your email",
		path:    "/auth/verify",
		html: htmltpl.Must(htmltpl.New("verify_html").Parse(
			`<p>Welcome {{.Email}},</p><p>Confirm your address: <a href="{{.Link}}">{{.Link}}</a></p><p>The link expires in {{.ExpiresIn}}.</p>`)),
		text: texttpl.Must(texttpl.New("verify_text").Parse(
			"Welcome {{.Email}},\n\nConfirm your address: {{.Link}}\n\nThe link expires in {{.ExpiresIn}}.\n")),
	},
	service.PurposeResetPassword: {
		subject: "Reset your password",
		path:    "/auth/reset-password",
		html: htmltpl.Must(htmltpl.New("reset_html").Parse(
			`<p>Hello {{.Email}},</p><p>Choose a new password: <a href="{{.Link}}">{{.Link}}</a></p><p>The link expires in {{.ExpiresIn}}. Ignore this message if you did not ask for it.</p>`)),
		text: texttpl.Must(texttpl.New("reset_text").Parse(
			"Hello {{.Email}},\n\nChoose a new password: {{.Link}}\n\nThe link expires in {{.ExpiresIn}}. Ignore this message if you did not ask for it.\n")),
	},
}

// SMTPNotifier renders verification and reset messages and hands them to a
// Sender.
type SMTPNotifier struct {
	sender  Sender
	baseURL string
	now     func() time.Time
}

func NewSMTPNotifier(sender Sender, baseURL string) *SMTPNotifier {
	return &SMTPNotifier{
		sender:  sender,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

func (n *SMTPNotifier) NotifyVerification(ctx context.Context, msg service.VerificationMessage) error {
	tpl, ok := templates[msg.Purpose]
	if !ok {
		return fmt.Errorf("no template for notification purpose %q", msg.Purpose)
	}
	vars := messageVars{
		Email:     msg.Email,
		Link:      n.baseURL + tpl.path + "?token=" + url.QueryEscape(msg.Token),
		ExpiresIn: expiresIn(msg.ExpiresAt.Sub(n.now())),
	}
	var html, text bytes.Buffer
	if err := tpl.html.Execute(&html, vars); err != nil {
		return fmt.Errorf("render %s html: %w", msg.Purpose, err)
	}
	if err := tpl.text.Execute(&text, vars); err != nil {
		return fmt.Errorf("render %s text: %w", msg.Purpose, err)
	}
	return n.sender.Send(ctx, msg.Email, tpl.subject, html.String(), text.String())
}

func expiresIn(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	return d.Round(time.Minute).String()
}

// LogNotifier records notifications in the log instead of sending them. It
// is used when no SMTP host is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyVerification(ctx context.Context, msg service.VerificationMessage) error {
	n.logger.InfoContext(ctx, "notification not delivered: smtp disabled",
		"purpose", string(msg.Purpose),
		"email", msg.Email,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}
