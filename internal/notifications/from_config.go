package notifications

import (
	"log/slog"

	"github.com/geocoder89/truckmatch/internal/config"
)

// FromConfig returns the SMTP notifier when SMTP is configured and the log
// notifier otherwise, both behind the circuit breaker.
func FromConfig(cfg config.Config, log *slog.Logger) *ProtectedNotifier {
	var inner Notifier = NewLogNotifier(log)

	if cfg.SMTPConfigured() {
		inner = NewSMTPNotifier(SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.MailFrom,
		})
		log.Info("smtp notifier enabled", "host", cfg.SMTPHost)
	} else {
		log.Warn("SMTP not configured, notices are logged only")
	}

	return NewProtectedNotifier(inner, ProtectedNotifierConfig{})
}
