package notification

import (
	"bytes"
	"context"
	"fmt"

	mail "github.com/wneessen/go-mail"

	"signflow/config"
	"signflow/logger"
	"signflow/outbox"
)

// SMTPSender delivers outbox entries over SMTP. It implements
// outbox.Transport.
type SMTPSender struct {
	client  *mail.Client
	from    string
	appName string
}

func NewSMTPSender(cfg config.SMTP, appName string) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notification: build smtp client: %w", err)
	}

	return &SMTPSender{client: client, from: cfg.From, appName: appName}, nil
}

func (s *SMTPSender) Send(ctx context.Context, entry *outbox.Entry) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("notification: set from: %w", err)
	}
	if err := msg.AddToFormat(entry.RecipientName, entry.RecipientEmail); err != nil {
		return fmt.Errorf("notification: set recipient: %w", err)
	}

	msg.Subject(Subject(entry.Kind, s.appName))
	msg.SetBodyString(mail.TypeTextHTML, Body(entry))

	for _, att := range entry.Attachments {
		msg.AttachReader(att.FileName, bytes.NewReader(att.Data),
			mail.WithFileContentType(mail.ContentType(att.ContentType)))
	}

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notification: smtp send: %w", err)
	}
	return nil
}

// ConsoleSender logs notifications instead of sending them. Used when no
// SMTP host is configured.
type ConsoleSender struct {
	log     *logger.Logger
	appName string
}

func NewConsoleSender(log *logger.Logger, appName string) *ConsoleSender {
	return &ConsoleSender{log: log, appName: appName}
}

func (s *ConsoleSender) Send(_ context.Context, entry *outbox.Entry) error {
	s.log.Info("console notification",
		"kind", entry.Kind,
		"recipient", entry.RecipientEmail,
		"subject", Subject(entry.Kind, s.appName),
		"attachments", len(entry.Attachments),
	)
	return nil
}
