package mailflow

import (
	"errors"
	"time"

	validation "github.com/jellydator/validation"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/mailer/brevo"
	"github.com/dmitrymomot/mailflow/pkg/mailer/logsender"
	"github.com/dmitrymomot/mailflow/pkg/mailer/resend"
	"github.com/dmitrymomot/mailflow/pkg/mailer/smtp"
	"github.com/dmitrymomot/mailflow/pkg/webhook"
)

// Config is the pipeline configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	Provider        string `env:"MAILFLOW_PROVIDER" envDefault:"log"` // resend, brevo, smtp or log
	ProviderAPIKey  string `env:"MAILFLOW_PROVIDER_API_KEY"`
	ProviderBaseURL string `env:"MAILFLOW_PROVIDER_BASE_URL"` // override for tests and proxies
	FromEmail       string `env:"MAILFLOW_FROM_EMAIL"`
	FromName        string `env:"MAILFLOW_FROM_NAME"`
	ReplyTo         string `env:"MAILFLOW_REPLY_TO"`
	DefaultLanguage string `env:"MAILFLOW_DEFAULT_LANGUAGE" envDefault:"en"`
	WebhookSecret   string `env:"MAILFLOW_WEBHOOK_SECRET"`
	// WebhookSignatureHeader carries the hex HMAC for brevo, smtp and log.
	WebhookSignatureHeader string `env:"MAILFLOW_WEBHOOK_SIGNATURE_HEADER" envDefault:"X-Mailflow-Signature"`

	SMTP smtp.Config `envPrefix:"MAILFLOW_"`

	RetryBaseDelay time.Duration `env:"MAILFLOW_RETRY_BASE_DELAY" envDefault:"5m"`
	RequestTimeout time.Duration `env:"MAILFLOW_REQUEST_TIMEOUT" envDefault:"30s"`
	// SweepGrace is how old a never-scheduled pending job must be before
	// the sweeper treats it as lost.
	SweepGrace     time.Duration `env:"MAILFLOW_SWEEP_GRACE" envDefault:"2m"`
	SweepBatchSize int           `env:"MAILFLOW_SWEEP_BATCH_SIZE" envDefault:"100"`
	MaxAttempts    int           `env:"MAILFLOW_MAX_ATTEMPTS" envDefault:"3"`
}

// DefaultConfig returns the configuration used when env defaults are not applied.
func DefaultConfig() Config {
	return Config{
		Provider:               logsender.ProviderName,
		DefaultLanguage:        "en",
		WebhookSignatureHeader: webhook.DefaultSignatureHeader,
		RetryBaseDelay:         5 * time.Minute,
		RequestTimeout:         30 * time.Second,
		SweepGrace:             2 * time.Minute,
		SweepBatchSize:         100,
		MaxAttempts:            3,
	}
}

// Validate checks the configuration. The returned error wraps ErrInvalidConfig.
func (c Config) Validate() error {
	needsKey := c.Provider == resend.ProviderName || c.Provider == brevo.ProviderName
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Provider, validation.Required, validation.In(
			resend.ProviderName, brevo.ProviderName, smtp.ProviderName, logsender.ProviderName,
		).Error("must be one of resend, brevo, smtp, log")),
		validation.Field(&c.ProviderAPIKey, validation.When(needsKey, validation.Required)),
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryBaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.RequestTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.SweepBatchSize, validation.Min(0)),
	)
	if err == nil && c.FromEmail != "" {
		err = c.From().Validate()
	}
	if err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	return nil
}

// From is the default sender. The zero Address leaves it to the provider.
func (c Config) From() mailer.Address {
	return mailer.Address{Name: c.FromName, Email: c.FromEmail}
}
