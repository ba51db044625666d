package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

// MailConfig configures MailAlerter.
type MailConfig struct {
	Addr     string // host:port
	From     string
	To       []string
	Username string
	Password string

	// MaxRetries bounds delivery attempts after the first; RetryInterval is
	// the pause between them.
	MaxRetries    uint64
	RetryInterval time.Duration
}

const (
	defaultMailRetries       = 3
	defaultMailRetryInterval = 2 * time.Second
)

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailAlerter sends alerts by SMTP, retrying transient delivery failures.
type MailAlerter struct {
	config MailConfig
	send   sendFunc
	logger *slog.Logger
}

// NewMailAlerter creates a MailAlerter.
func NewMailAlerter(cfg MailConfig, logger *slog.Logger) (*MailAlerter, error) {
	if cfg.Addr == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "mail alerter needs addr, from and at least one recipient")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid smtp addr %q", cfg.Addr).WithCause(err)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMailRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultMailRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MailAlerter{config: cfg, send: smtp.SendMail, logger: logger}, nil
}

func (a *MailAlerter) SendAlert(ctx context.Context, r *run.Run, automation *schema.Automation, message string) error {
	msg := a.compose(Render(r, automation, message))

	var auth smtp.Auth
	if a.config.Username != "" {
		host, _, _ := net.SplitHostPort(a.config.Addr)
		auth = smtp.PlainAuth("", a.config.Username, a.config.Password, host)
	}

	attempt := 0
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(a.config.RetryInterval), a.config.MaxRetries),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempt++
		err := a.send(a.config.Addr, auth, a.config.From, a.config.To, msg)
		if err != nil {
			a.logger.WarnContext(ctx, "alert delivery failed",
				slog.String("run_id", r.ID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return err
	}, b)
	if err != nil {
		return fmt.Errorf("send alert mail after %d attempts: %w", attempt, err)
	}
	return nil
}

func (a *MailAlerter) compose(alert Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(a.config.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", alert.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(alert.Body, "\n", "\r\n"))
	return []byte(b.String())
}
