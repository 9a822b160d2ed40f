package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/textproto"

	"gopkg.in/gomail.v2"
	"github.com/google/uuid"

	"github.com/unclebandit/vendor-dispatch/internal/config"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
)

// Dialer opens an SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// SMTPProvider sends HTML email through an authenticated SMTP relay, one
// session per message.
type SMTPProvider struct {
	dialer   Dialer
	from     string
	envelope string
}

func NewSMTPProvider(cfg config.EmailConfig) (*SMTPProvider, error) {
	if cfg.SMTPHost == "" || cfg.SMTPUser == "" || cfg.SMTPPassword == "" {
		return nil, appErrors.Configf("email provider credentials are not configured")
	}
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	d.SSL = cfg.SMTPPort == 465
	return NewSMTPProviderWithDialer(d, cfg.SenderAddress)
}

func NewSMTPProviderWithDialer(d Dialer, from string) (*SMTPProvider, error) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, appErrors.Configf("invalid sender address %q: %v", from, err)
	}
	return &SMTPProvider{dialer: d, from: from, envelope: addr.Address}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, to, subject, body string) (ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return ProviderResponse{ErrorCode: ErrorCodeTransient, Message: err.Error()}, nil
	}

	msgID := fmt.Sprintf("<%s@vendor-dispatch>", uuid.NewString())
	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", to)
	m.SetHeader("Message-ID", msgID)
	if subject != "" {
		m.SetHeader("Subject", subject)
	}
	m.SetBody("text/html", body)

	s, err := p.dialer.Dial()
	if err != nil {
		return classifySMTP(err)
	}
	defer s.Close()

	if err := s.Send(p.envelope, []string{to}, m); err != nil {
		return classifySMTP(err)
	}
	return ProviderResponse{OK: true, MessageID: msgID}, nil
}

func classifySMTP(err error) (ProviderResponse, error) {
	var tp *textproto.Error
	if errors.As(err, &tp) {
		switch {
		case tp.Code == 421 || tp.Code == 451 || tp.Code == 452:
			return ProviderResponse{ErrorCode: ErrorCodeRateLimited, Message: tp.Msg}, nil
		case tp.Code == 530 || tp.Code == 534 || tp.Code == 535:
			return ProviderResponse{}, fmt.Errorf("%w: smtp auth rejected (%d)", appErrors.ErrProviderUnavailable, tp.Code)
		case tp.Code >= 400 && tp.Code < 500:
			return ProviderResponse{ErrorCode: ErrorCodeTransient, Message: tp.Msg}, nil
		}
		return rejected(fmt.Sprintf("smtp %d: %s", tp.Code, tp.Msg)), nil
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ProviderResponse{ErrorCode: ErrorCodeTransient, Message: "network error talking to mail server"}, nil
	}
	return rejected(err.Error()), nil
}
