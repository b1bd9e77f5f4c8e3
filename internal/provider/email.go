package provider

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
)

const (
	defaultSendGridHost = "https://api.sendgrid.com"
	mailSendEndpoint    = "/v3/mail/send"
)

// EmailTransport sends through the SendGrid v3 mail API. The host is taken
// from the provider config so compatible relays can be used.
type EmailTransport struct {
	Logger zerolog.Logger
}

func NewEmailTransport(logger zerolog.Logger) *EmailTransport {
	return &EmailTransport{Logger: logger.With().Str("provider", "sendgrid").Logger()}
}

func (t *EmailTransport) Channel() model.Channel { return model.ChannelEmail }

func (t *EmailTransport) Send(ctx context.Context, msg Message, cfg model.ProviderConfigs) error {
	if cfg.Email == nil {
		return ErrDisabled
	}
	ec := cfg.Email

	host := ec.BaseURL
	if host == "" {
		host = defaultSendGridHost
	}
	req := sendgrid.GetRequest(ec.APIKey, mailSendEndpoint, host)
	req.Method = "POST"
	client := &sendgrid.Client{Request: req}

	resp, err := client.SendWithContext(ctx, buildMail(msg, ec))
	if err != nil {
		return &appErrors.TransportError{Channel: string(model.ChannelEmail), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Logger.Debug().Str("log_id", msg.LogID).Int("status", resp.StatusCode).Str("body", resp.Body).Msg("sendgrid rejected message")
		return &appErrors.TransportError{
			Channel:    string(model.ChannelEmail),
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}
	}
	return nil
}

func buildMail(msg Message, ec *model.EmailProviderConfig) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(ec.FromName, ec.FromEmail))
	m.Subject = msg.Subject
	m.AddContent(mail.NewContent("text/html", msg.Body))

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(msg.ToName, msg.To))
	if ec.ForwardCopyTo != "" && ec.ForwardCopyTo != msg.To {
		p.AddCCs(mail.NewEmail("", ec.ForwardCopyTo))
	}
	m.AddPersonalizations(p)

	if ec.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", ec.ReplyTo))
	}
	if msg.LogID != "" {
		m.SetCustomArg("delivery_log_id", msg.LogID)
	}
	return m
}
