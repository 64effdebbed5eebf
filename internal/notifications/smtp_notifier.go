package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string

	// PerSecond caps outgoing mail so a backlog does not trip provider limits.
	PerSecond float64
	Burst     int
}

// sender is the part of gomail.Dialer the notifier uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPNotifier struct {
	from    string
	dialer  sender
	limiter *rate.Limiter
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return newSMTPNotifier(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass))
}

func newSMTPNotifier(cfg SMTPConfig, d sender) *SMTPNotifier {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	return &SMTPNotifier{
		from:    cfg.From,
		dialer:  d,
		limiter: rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.Burst),
	}
}

var applicationTmpl = template.Must(template.New("application").Parse(`<p>Hello {{.OwnerName}},</p>
<p><strong>{{.DriverName}}</strong> applied to your job <strong>{{.JobTitle}}</strong> ({{.JobRoute}}).</p>
<p>Email: {{.DriverEmail}}{{if .DriverPhone}}<br>Phone: {{.DriverPhone}}{{end}}</p>
<p>TruckMatch</p>`))

func renderApplication(n ApplicationNotice) (string, error) {
	var buf bytes.Buffer
	if err := applicationTmpl.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *SMTPNotifier) SendApplicationNotice(ctx context.Context, n ApplicationNotice) error {
	body, err := renderApplication(n)
	if err != nil {
		return fmt.Errorf("render application notice: %w", err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.OwnerEmail)
	if n.DriverEmail != "" {
		m.SetHeader("Reply-To", n.DriverEmail)
	}
	m.SetHeader("Subject", "New application: "+n.JobTitle)
	m.SetBody("text/html", body)

	// gomail has no context support; the protected wrapper bounds the call
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
