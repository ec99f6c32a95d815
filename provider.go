package mailflow

import (
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/mailer/brevo"
	"github.com/dmitrymomot/mailflow/pkg/mailer/logsender"
	"github.com/dmitrymomot/mailflow/pkg/mailer/resend"
	"github.com/dmitrymomot/mailflow/pkg/mailer/smtp"
)

// NewProvider builds the single delivery adapter named by cfg.Provider.
func NewProvider(cfg Config, log *slog.Logger) (mailer.Provider, error) {
	switch cfg.Provider {
	case resend.ProviderName:
		return resend.New(resend.Config{APIKey: cfg.ProviderAPIKey, BaseURL: cfg.ProviderBaseURL})
	case brevo.ProviderName:
		return brevo.New(brevo.Config{
			APIKey:  cfg.ProviderAPIKey,
			BaseURL: cfg.ProviderBaseURL,
			Timeout: cfg.RequestTimeout,
		}), nil
	case smtp.ProviderName:
		return smtp.New(cfg.SMTP), nil
	case logsender.ProviderName, "":
		return logsender.New(log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}
