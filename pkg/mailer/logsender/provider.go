// Package logsender is a development mailer.Provider: it logs every message
// instead of delivering it and returns a generated message id.
package logsender

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/mailflow/pkg/logger"
	"github.com/dmitrymomot/mailflow/pkg/mailer"
)

// ProviderName is stored on jobs dispatched through this adapter.
const ProviderName = "log"

// Provider logs messages.
type Provider struct {
	log *slog.Logger
}

// New creates a log provider. A nil logger discards output.
func New(log *slog.Logger) *Provider {
	if log == nil {
		log = logger.NewNope()
	}
	return &Provider{log: log}
}

// Name implements mailer.Provider.
func (p *Provider) Name() string { return ProviderName }

// Send implements mailer.Provider.
func (p *Provider) Send(ctx context.Context, email *mailer.Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", mailer.NewTransportError(ProviderName, err)
	}
	id := uuid.NewString()
	to := make([]string, len(email.To))
	for i, a := range email.To {
		to[i] = a.String()
	}
	p.log.InfoContext(ctx, "email sent",
		slog.String("message_id", id),
		slog.String("from", email.From.String()),
		slog.Any("to", to),
		slog.String("subject", email.Subject),
		slog.Int("attachments", len(email.Attachments)),
	)
	return id, nil
}
