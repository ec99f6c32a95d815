package mailer

import "context"

// Provider is the boundary to an external delivery service.
// Exactly one Provider is active per deployment.
type Provider interface {
	// Name identifies the adapter, e.g. "brevo". Stored on the job.
	Name() string

	// Send hands the message to the provider and returns the provider's
	// message id. Implementations never retry; a failure must be returned
	// as a *ProviderError.
	Send(ctx context.Context, email *Email) (string, error)
}
