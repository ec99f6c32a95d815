// Package brevo implements mailer.Provider over the Brevo transactional
// email HTTP API (POST /v3/smtp/email).
package brevo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
)

// ProviderName is stored on jobs dispatched through this adapter.
const ProviderName = "brevo"

// DefaultBaseURL is the production Brevo API root.
const DefaultBaseURL = "https://api.brevo.com"

// Config holds Brevo provider configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	APIKey  string        `env:"BREVO_API_KEY"`
	BaseURL string        `env:"BREVO_BASE_URL" envDefault:"https://api.brevo.com"`
	Timeout time.Duration `env:"BREVO_TIMEOUT" envDefault:"30s"`
}

// Provider sends mail through Brevo.
type Provider struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// Option customizes a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a Brevo provider.
func New(cfg Config, opts ...Option) *Provider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &Provider{
		client:  &http.Client{Timeout: timeout},
		apiKey:  cfg.APIKey,
		baseURL: base,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements mailer.Provider.
func (p *Provider) Name() string { return ProviderName }

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type sendRequest struct {
	Sender      *contact          `json:"sender,omitempty"`
	ReplyTo     *contact          `json:"replyTo,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
	To          []contact         `json:"to"`
	CC          []contact         `json:"cc,omitempty"`
	BCC         []contact         `json:"bcc,omitempty"`
	Attachment  []attachment      `json:"attachment,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Send implements mailer.Provider.
func (p *Provider) Send(ctx context.Context, email *mailer.Email) (string, error) {
	body, err := json.Marshal(buildRequest(email))
	if err != nil {
		return "", mailer.NewTransportError(ProviderName, fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return "", mailer.NewTransportError(ProviderName, err)
	}
	req.Header.Set("api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", mailer.NewTransportError(ProviderName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", mailer.NewTransportError(ProviderName, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", mailer.NewAPIError(ProviderName, resp.StatusCode, errorMessage(raw, resp.Status))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.MessageID == "" {
		return "", mailer.NewAPIError(ProviderName, resp.StatusCode, "response has no messageId")
	}
	return out.MessageID, nil
}

func errorMessage(raw []byte, fallback string) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err == nil && e.Message != "" {
		if e.Code != "" {
			return e.Code + ": " + e.Message
		}
		return e.Message
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fallback
}

func buildRequest(email *mailer.Email) sendRequest {
	req := sendRequest{
		Subject:     email.Subject,
		HTMLContent: email.HTML,
		TextContent: email.Text,
		To:          contacts(email.To),
		CC:          contacts(email.CC),
		BCC:         contacts(email.BCC),
	}
	if email.From.Email != "" {
		req.Sender = &contact{Email: email.From.Email, Name: email.From.Name}
	}
	if email.ReplyTo != "" {
		req.ReplyTo = &contact{Email: email.ReplyTo}
	}
	for _, a := range email.Attachments {
		req.Attachment = append(req.Attachment, attachment{
			Name:    a.Filename,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}

	headers := make(map[string]string, len(email.Headers)+1)
	for k, v := range email.Headers {
		headers[k] = v
	}
	if len(email.Tags) > 0 {
		// Tag names go to Brevo's tag list; the full map rides in
		// X-Mailin-custom and comes back on every webhook.
		custom, _ := json.Marshal(email.Tags)
		headers["X-Mailin-custom"] = string(custom)
		req.Tags = slices.Sorted(maps.Keys(email.Tags))
	}
	if len(headers) > 0 {
		req.Headers = headers
	}
	return req
}

func contacts(addrs []mailer.Address) []contact {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]contact, len(addrs))
	for i, a := range addrs {
		out[i] = contact{Email: a.Email, Name: a.Name}
	}
	return out
}
