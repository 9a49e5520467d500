package mailSender

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Mailer delivers HTML messages over SMTP. gomail upgrades the connection
// with STARTTLS when the server offers it, which is what port 587 expects.
type Mailer struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	const op = "mailSender.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := m.NewMessage(to, subject, body)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// NewMessage builds the message Send would deliver.
func (m *Mailer) NewMessage(to, subject, body string) *gomail.Message {
	from := m.FromEmail
	if from == "" {
		from = m.Username
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", from, m.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	return msg
}
