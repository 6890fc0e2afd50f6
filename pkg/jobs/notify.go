package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"talk-archive/pkg/config"
	"talk-archive/pkg/domain"
	"talk-archive/pkg/logging"
)

// Notifier tells the job's owner how processing ended.
type Notifier interface {
	JobReady(ctx context.Context, job *domain.Job) error
	JobFailed(ctx context.Context, job *domain.Job, reason string) error
}

func readyMessage(job *domain.Job) (string, string) {
	return "Ingest Job Ready for Review",
		fmt.Sprintf("Your ingest job for URL %s is ready for review. "+
			"You can now edit metadata and transcript before proceeding with video processing.", job.URL)
}

func failedMessage(job *domain.Job, reason string) (string, string) {
	return "Ingest Job Failed",
		fmt.Sprintf("Your ingest job for URL %s has failed.\nError: %s", job.URL, reason)
}

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) JobReady(_ context.Context, job *domain.Job) error {
	subject, _ := readyMessage(job)
	logging.OrDefault(n.Logger).Info("notification", "to", job.UserEmail, "subject", subject, "job_id", job.ID)
	return nil
}

func (n LogNotifier) JobFailed(_ context.Context, job *domain.Job, reason string) error {
	subject, _ := failedMessage(job, reason)
	logging.OrDefault(n.Logger).Info("notification", "to", job.UserEmail, "subject", subject, "job_id", job.ID, "reason", reason)
	return nil
}

// sender delivers one message; gomail's Dialer satisfies it.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier sends plain-text mail over SMTP.
type MailNotifier struct {
	from   string
	dialer sender
}

// NewMailNotifier creates a notifier from SMTP settings.
func NewMailNotifier(cfg config.NotifyConfig) *MailNotifier {
	return &MailNotifier{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password),
	}
}

// NewNotifier returns a MailNotifier when SMTP is fully configured and a LogNotifier otherwise.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg.SMTPHost == "" || cfg.Username == "" || cfg.Password == "" || cfg.From == "" {
		logging.OrDefault(logger).Warn("email settings not configured, notifications go to the log")
		return LogNotifier{Logger: logger}
	}
	return NewMailNotifier(cfg)
}

func (n *MailNotifier) send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := n.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func (n *MailNotifier) JobReady(_ context.Context, job *domain.Job) error {
	subject, body := readyMessage(job)
	return n.send(job.UserEmail, subject, body)
}

func (n *MailNotifier) JobFailed(_ context.Context, job *domain.Job, reason string) error {
	subject, body := failedMessage(job, reason)
	return n.send(job.UserEmail, subject, body)
}
