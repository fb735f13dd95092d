package utils

import (
	"context"
	"fmt"
	"strings"

	"leadpilot/config"
	"leadpilot/engine"
	"leadpilot/models"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Mailer delivers rendered sequence email over SMTP. It is the production
// engine.DeliveryGateway: permanent SMTP rejections map to a bounce, anything
// else to a transient failure the scheduler retries.
type Mailer struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	baseURL  string
	secret   string
}

func NewMailer(cfg config.SMTPConfig, trackingBaseURL, trackingSecret string) *Mailer {
	return &Mailer{
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		fromName: cfg.FromName,
		baseURL:  trackingBaseURL,
		secret:   trackingSecret,
	}
}

var _ engine.DeliveryGateway = (*Mailer)(nil)

func (m *Mailer) Send(ctx context.Context, lead *models.Lead, msg engine.Message, idempotencyKey string) (engine.Outcome, string, error) {
	messageID := fmt.Sprintf("%s@leadpilot", uuid.New().String())
	body := InjectTracking(msg.Body, m.baseURL, m.secret, messageID)

	gm := gomail.NewMessage()
	gm.SetAddressHeader("From", m.from, m.fromName)
	gm.SetHeader("To", lead.Email)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("Message-ID", "<"+messageID+">")
	// Carried so the receiving side can deduplicate crash-retried sends.
	gm.SetHeader("X-Idempotency-Key", idempotencyKey)
	gm.SetBody("text/html", body)

	errCh := make(chan error, 1)
	go func() { errCh <- m.dialer.DialAndSend(gm) }()

	select {
	case <-ctx.Done():
		return engine.OutcomeFailed, "", ctx.Err()
	case err := <-errCh:
		if err == nil {
			return engine.OutcomeSent, messageID, nil
		}
		if isPermanentSMTPError(err) {
			return engine.OutcomeBounced, "", err
		}
		return engine.OutcomeFailed, "", err
	}
}

// isPermanentSMTPError reports whether the server rejected the recipient for
// good (5xx reply), as opposed to a connection or throttling problem worth
// retrying.
func isPermanentSMTPError(err error) bool {
	s := err.Error()
	for _, code := range []string{"550", "551", "552", "553", "554"} {
		if strings.Contains(s, code) {
			return true
		}
	}
	ls := strings.ToLower(s)
	return strings.Contains(ls, "user unknown") ||
		strings.Contains(ls, "no such user") ||
		strings.Contains(ls, "mailbox unavailable")
}
