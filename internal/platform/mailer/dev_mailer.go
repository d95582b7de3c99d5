package mailer

import (
	"github.com/gatewise/guestgate/pkg/logger"
)

// DevMailer prints mail to the logs instead of sending. Used when
// EMAIL_DEV_MODE is set or no MailerSend key is configured.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	logger.Info("📧 [DEV MAIL]",
		"to", toEmail,
		"name", toName,
		"subject", subject,
		"text", text,
	)
	return "dev-mail", nil
}

func (d *DevMailer) SendDiscount(email, name, code string) error {
	logger.Info("📧 [DEV MAIL] Discount Reward",
		"to", email,
		"name", name,
		"code", code,
	)
	return nil
}

func (d *DevMailer) SendInvitation(email, name, hostName, qrLink string) error {
	logger.Info("📧 [DEV MAIL] Invitation",
		"to", email,
		"name", name,
		"host", hostName,
		"qr_link", qrLink,
	)
	return nil
}
