package dcragent

import (
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
)

// MailNotifier submits notification mail over SMTP. Invalid addressing and
// client setup problems surface as permanent failures; everything the relay
// might recover from stays transient so the dispatcher retries it.
type MailNotifier struct {
	cfg MailConfig
}

func NewMailNotifier(cfg MailConfig) *MailNotifier {
	return &MailNotifier{cfg: cfg}
}

func (n *MailNotifier) Send(subject string, body string, recipients []string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return fmt.Errorf("%w: invalid sender %q: %v", ErrPermanent, n.cfg.From, err)
	}
	if err := msg.To(recipients...); err != nil {
		return fmt.Errorf("%w: invalid recipient: %v", ErrPermanent, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(n.cfg.Port)}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password))
	}
	switch {
	case n.cfg.SSL:
		opts = append(opts, mail.WithSSL())
	case n.cfg.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("%w: smtp client: %v", ErrPermanent, err)
	}
	if err := client.DialAndSend(msg); err != nil {
		var se *mail.SendError
		if errors.As(err, &se) && !se.IsTemp() {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return err
	}
	return nil
}
