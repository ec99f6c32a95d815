// Package smtp implements mailer.Provider over a plain SMTP relay using gomail.
// The provider message id is the Message-ID header the adapter generates.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
)

// ProviderName is stored on jobs dispatched through this adapter.
const ProviderName = "smtp"

// Config holds SMTP relay settings.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	Host          string `env:"SMTP_HOST" envDefault:"localhost"`
	Username      string `env:"SMTP_USERNAME"`
	Password      string `env:"SMTP_PASSWORD"`
	Port          int    `env:"SMTP_PORT" envDefault:"587"`
	SkipTLSVerify bool   `env:"SMTP_SKIP_TLS_VERIFY" envDefault:"false"`
}

// Provider sends mail through an SMTP relay.
type Provider struct {
	send func(m *gomail.Message) error
}

// Option customizes a Provider.
type Option func(*Provider)

// WithSendFunc replaces the network dialer, mostly for tests.
func WithSendFunc(fn gomail.SendFunc) Option {
	return func(p *Provider) {
		p.send = func(m *gomail.Message) error { return gomail.Send(fn, m) }
	}
}

// New creates an SMTP provider.
func New(cfg Config, opts ...Option) *Provider {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.SkipTLSVerify {
		d.TLSConfig = &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: true} //nolint:gosec // opt-in for local relays
	}
	p := &Provider{send: func(m *gomail.Message) error { return d.DialAndSend(m) }}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements mailer.Provider.
func (p *Provider) Name() string { return ProviderName }

// Send implements mailer.Provider.
// gomail has no context support, so cancellation abandons the in-flight
// dial rather than aborting it.
func (p *Provider) Send(ctx context.Context, email *mailer.Email) (string, error) {
	msg, messageID := BuildMessage(email)

	done := make(chan error, 1)
	go func() { done <- p.send(msg) }()

	select {
	case <-ctx.Done():
		return "", mailer.NewTransportError(ProviderName, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", classify(err)
		}
		return messageID, nil
	}
}

// BuildMessage converts an Email into a gomail message and returns it
// together with its generated Message-ID.
func BuildMessage(email *mailer.Email) (*gomail.Message, string) {
	m := gomail.NewMessage()
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(email.From.Email))

	m.SetHeader("Message-ID", messageID)
	m.SetAddressHeader("From", email.From.Email, email.From.Name)
	m.SetHeader("To", formatAll(m, email.To)...)
	if len(email.CC) > 0 {
		m.SetHeader("Cc", formatAll(m, email.CC)...)
	}
	if len(email.BCC) > 0 {
		m.SetHeader("Bcc", formatAll(m, email.BCC)...)
	}
	if email.ReplyTo != "" {
		m.SetHeader("Reply-To", email.ReplyTo)
	}
	m.SetHeader("Subject", email.Subject)
	for k, v := range email.Headers {
		m.SetHeader(k, v)
	}
	for name, value := range email.Tags {
		m.SetHeader("X-Tag-"+name, value)
	}

	switch {
	case email.Text != "" && email.HTML != "":
		m.SetBody("text/plain", email.Text)
		m.AddAlternative("text/html", email.HTML)
	case email.HTML != "":
		m.SetBody("text/html", email.HTML)
	default:
		m.SetBody("text/plain", email.Text)
	}

	for _, a := range email.Attachments {
		content := a.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := io.Copy(w, bytes.NewReader(content))
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		if a.ContentID != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-ID": {"<" + a.ContentID + ">"}}))
			m.Embed(a.Filename, settings...)
			continue
		}
		m.Attach(a.Filename, settings...)
	}

	return m, messageID
}

// classify treats permanent SMTP replies (5xx) as api errors and everything
// else as transport failures.
func classify(err error) *mailer.ProviderError {
	msg := err.Error()
	for _, code := range []string{"550", "551", "552", "553", "554", "535", "530"} {
		if strings.HasPrefix(msg, code) || strings.Contains(msg, " "+code+" ") {
			perr := mailer.NewAPIError(ProviderName, 0, msg)
			perr.Err = err
			return perr
		}
	}
	return mailer.NewTransportError(ProviderName, err)
}

func formatAll(m *gomail.Message, addrs []mailer.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = m.FormatAddress(a.Email, a.Name)
	}
	return out
}

func domainOf(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}
