package mailer

type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendDiscount(email, name, code string) error
	SendInvitation(email, name, hostName, qrLink string) error
}
