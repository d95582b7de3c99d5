package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type Mailer struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	Enabled bool
}

func NewMailer(apiKey, fromName, fromEmail string) *Mailer {
	m := &Mailer{
		Enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}
	if m.Enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

func (m *Mailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	if !m.Enabled {
		return "", errors.New("mailer disabled (missing MAILERSEND_API_KEY or MAILER_FROM)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)
	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	// MailerSend uses X-Message-Id
	return res.Header.Get("X-Message-Id"), nil
}

func (m *Mailer) SendDiscount(email, name, code string) error {
	subject := "A thank-you from the front desk"
	text := fmt.Sprintf("Thanks for your third visit, %s! Your reward code is %s.", name, code)
	html := fmt.Sprintf(`<p>Thanks for your third visit, %s!</p><p>Your reward code is <b>%s</b></p>`, name, code)
	_, err := m.Send(email, name, subject, text, html)
	return err
}

func (m *Mailer) SendInvitation(email, name, hostName, qrLink string) error {
	subject := fmt.Sprintf("%s invited you to visit", hostName)
	text := fmt.Sprintf("Hi %s, %s invited you. Your check-in QR: %s", name, hostName, qrLink)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>%s invited you. <a href="%s">Open your check-in QR</a></p>`, name, hostName, qrLink)
	_, err := m.Send(email, name, subject, text, html)
	return err
}
