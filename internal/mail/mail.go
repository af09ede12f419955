// Package mail delivers reminder emails through Resend, SMTP or the log.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/greenhospital/reporting/pkg/logger"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

func (m Message) validate() error {
	if len(m.To) == 0 {
		return errors.New("mail: no recipients")
	}
	for _, to := range m.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("mail: invalid recipient %q", to)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("mail: subject is required")
	}
	if m.Text == "" && m.HTML == "" {
		return errors.New("mail: body is required")
	}
	return nil
}

// Mailer sends messages. Implementations are safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
	// Channel names the delivery mechanism for audit rows.
	Channel() string
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	from string
	log  *logger.Logger
}

// NewLogMailer returns a mailer for development setups.
func NewLogMailer(from string, log *logger.Logger) *LogMailer {
	if log == nil {
		log = logger.NewDefault("mail")
	}
	return &LogMailer{from: from, log: log}
}

func (l *LogMailer) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	l.log.WithContext(ctx).WithFields(map[string]interface{}{
		"from":    l.from,
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
	}).Info("email (log only)")
	return nil
}

func (l *LogMailer) Channel() string { return "log" }
