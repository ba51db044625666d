// Package alerting notifies operators when a run stops on a failure.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sovrium/sovrium/internal/run"
	"github.com/sovrium/sovrium/pkg/schema"
)

// Alerter delivers a failure notice for a run. Delivery errors are reported
// to the caller, who only logs them.
type Alerter interface {
	SendAlert(ctx context.Context, r *run.Run, automation *schema.Automation, message string) error
}

// Alert is the rendered notice.
type Alert struct {
	Subject string
	Body    string
}

// Render builds the subject and body of an alert for r.
func Render(r *run.Run, automation *schema.Automation, message string) Alert {
	name := fmt.Sprintf("#%d", r.AutomationID)
	if automation != nil {
		name = automation.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", message)
	fmt.Fprintf(&b, "Automation: %s\n", name)
	fmt.Fprintf(&b, "Run: %s\n", r.ID)
	fmt.Fprintf(&b, "Status: %s\n", r.Status)
	if msg := r.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, "Error: %s\n", msg)
	}
	fmt.Fprintf(&b, "Started: %s\n", r.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	return Alert{
		Subject: fmt.Sprintf("[sovrium] automation %q stopped", name),
		Body:    b.String(),
	}
}

// LogAlerter writes alerts to a logger. It is the fallback when no mail
// server is configured.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter. A nil logger uses slog.Default().
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) SendAlert(ctx context.Context, r *run.Run, automation *schema.Automation, message string) error {
	alert := Render(r, automation, message)
	a.logger.ErrorContext(ctx, alert.Subject,
		slog.String("run_id", r.ID),
		slog.Int("automation_id", r.AutomationID),
		slog.String("message", message),
	)
	return nil
}

// Multi fans an alert out to several alerters and joins their errors.
type Multi []Alerter

func (m Multi) SendAlert(ctx context.Context, r *run.Run, automation *schema.Automation, message string) error {
	var errs []string
	for _, a := range m {
		if err := a.SendAlert(ctx, r, automation, message); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("send alert: %s", strings.Join(errs, "; "))
	}
	return nil
}
