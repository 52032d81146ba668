package notify

import (
	"context"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"

	"github.com/pkg/errors"
	"gopkg.in/gomail.v2"
)

// SMTPSender delivers alert emails through an SMTP relay
type SMTPSender struct {
	cfg    config.SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return errors.Wrapf(err, "send email to %s", to)
	}
	return nil
}
