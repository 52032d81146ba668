// Package notify delivers alerts over email and SMS.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/alerting"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EmailSender sends one message to one address
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends one text to one phone number
type SMSSender interface {
	SendSMS(ctx context.Context, to, text string) error
}

// Dispatcher fans an alert out to the configured channels. A nil channel is
// replaced by a log line so local runs see what would have been sent.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
	log   *logrus.Logger
}

// NewDispatcher creates a dispatcher over the given senders. Either may be nil.
func NewDispatcher(email EmailSender, sms SMSSender, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{email: email, sms: sms, log: log}
}

// NewFromConfig wires senders for whichever channels have settings
func NewFromConfig(cfg *config.Config, log *logrus.Logger) *Dispatcher {
	var email EmailSender
	if cfg.SMTP.Host != "" {
		email = NewSMTPSender(cfg.SMTP)
	} else {
		log.Warn("SMTP host not configured, alert emails will only be logged")
	}

	var sms SMSSender
	if cfg.SMS.GatewayURL != "" {
		sms = NewGatewaySMSSender(cfg.SMS)
	} else {
		log.Warn("SMS gateway not configured, alert texts will only be logged")
	}

	return NewDispatcher(email, sms, log)
}

// Notify sends the alert to every recipient set. A failure on one channel does
// not stop the other; the joined error is returned.
func (d *Dispatcher) Notify(ctx context.Context, alert alerting.Alert, to alerting.Recipients) error {
	logger := d.log.WithFields(logrus.Fields{
		"device_id":  alert.DeviceID,
		"alert_type": alert.Type,
	})

	var failures []string

	if to.Email != "" {
		if d.email == nil {
			logger.WithField("to", to.Email).Infof("Email (not sent): %s", alert.Subject())
		} else if err := d.email.SendEmail(ctx, to.Email, alert.Subject(), emailBody(alert)); err != nil {
			logger.WithError(err).WithField("to", to.Email).Error("Failed to send alert email")
			failures = append(failures, "email: "+err.Error())
		}
	}

	if to.Phone != "" {
		if d.sms == nil {
			logger.WithField("to", to.Phone).Infof("SMS (not sent): %s", smsText(alert))
		} else if err := d.sms.SendSMS(ctx, to.Phone, smsText(alert)); err != nil {
			logger.WithError(err).WithField("to", to.Phone).Error("Failed to send alert SMS")
			failures = append(failures, "sms: "+err.Error())
		}
	}

	if len(failures) > 0 {
		return errors.Errorf("notify: %s", strings.Join(failures, "; "))
	}
	return nil
}

func emailBody(a alerting.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>\n", a.Subject())
	fmt.Fprintf(&b, "<p>%s</p>\n", a.Message)
	b.WriteString("<table>\n")
	fmt.Fprintf(&b, "<tr><td>Device</td><td>%s</td></tr>\n", a.DeviceID)
	if a.SiteName != "" {
		fmt.Fprintf(&b, "<tr><td>Site</td><td>%s</td></tr>\n", a.SiteName)
	}
	fmt.Fprintf(&b, "<tr><td>Oil level</td><td>%.1f%%</td></tr>\n", a.OilPercent)
	if a.From != "" || a.To != "" {
		fmt.Fprintf(&b, "<tr><td>Status</td><td>%s &rarr; %s</td></tr>\n", a.From, a.To)
	}
	if a.SafetyStatus != "" {
		fmt.Fprintf(&b, "<tr><td>Safety</td><td>%s</td></tr>\n", a.SafetyStatus)
	}
	fmt.Fprintf(&b, "<tr><td>Time</td><td>%s</td></tr>\n", a.TS.UTC().Format("2006-01-02 15:04:05 MST"))
	b.WriteString("</table>\n")
	return b.String()
}

// smsText keeps the message within a single 160 character segment
func smsText(a alerting.Alert) string {
	text := fmt.Sprintf("%s: %s", a.Type, a.Message)
	if len(text) > 160 {
		text = text[:157] + "..."
	}
	return text
}
