package resend

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/resend/resend-go/v3"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
)

// ProviderName is stored on jobs dispatched through this adapter.
const ProviderName = "resend"

// Config holds Resend provider configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	APIKey  string `env:"RESEND_API_KEY"`
	BaseURL string `env:"RESEND_BASE_URL"` // override for tests and proxies
}

// Provider implements mailer.Provider using the Resend API.
type Provider struct {
	client *resend.Client
}

// New creates a new Resend provider.
func New(cfg Config) (*Provider, error) {
	client := resend.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		client.BaseURL = u
	}
	return &Provider{client: client}, nil
}

// Name implements mailer.Provider.
func (p *Provider) Name() string { return ProviderName }

// Send implements mailer.Provider.
func (p *Provider) Send(ctx context.Context, email *mailer.Email) (string, error) {
	req := &resend.SendEmailRequest{
		From:    email.From.String(),
		To:      addressList(email.To),
		Subject: email.Subject,
		Html:    email.HTML,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
		Cc:      addressList(email.CC),
		Bcc:     addressList(email.BCC),
		Headers: email.Headers,
	}

	if len(email.Attachments) > 0 {
		req.Attachments = convertAttachments(email.Attachments)
	}
	if len(email.Tags) > 0 {
		req.Tags = convertTags(email.Tags)
	}

	resp, err := p.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil || resp.Id == "" {
		return "", mailer.NewAPIError(ProviderName, 0, "empty message id in response")
	}
	return resp.Id, nil
}

// classify separates network failures from errors reported by the API.
func classify(err error) *mailer.ProviderError {
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return mailer.NewTransportError(ProviderName, err)
	}
	perr := mailer.NewAPIError(ProviderName, 0, err.Error())
	perr.Err = err
	return perr
}

func addressList(addrs []mailer.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func convertAttachments(attachments []mailer.Attachment) []*resend.Attachment {
	result := make([]*resend.Attachment, len(attachments))
	for i, a := range attachments {
		result[i] = &resend.Attachment{
			Filename:    a.Filename,
			Content:     a.Content,
			ContentType: a.ContentType,
			ContentId:   a.ContentID,
		}
	}
	return result
}

// convertTags maps tags onto Resend's name/value pairs.
// Resend accepts only ASCII letters, digits, underscores and dashes.
func convertTags(tags mailer.Tags) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags))
	for name, value := range tags {
		result = append(result, resend.Tag{
			Name:  sanitizeTag(name),
			Value: sanitizeTag(value),
		})
	}
	return result
}

func sanitizeTag(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
