// Package mailer defines the provider-neutral email message and the Provider
// contract that delivery adapters implement.
//
// Adapters live in subpackages:
//
//   - brevo: Brevo transactional HTTP JSON API
//   - resend: Resend API via the official SDK
//   - smtp: any SMTP relay
//   - logsender: development adapter that only logs
//
// An adapter maps recipients, attachments and tags to the provider's native
// format and returns the provider's message id. Failures are reported as
// *ProviderError with a transport or api kind:
//
//	id, err := provider.Send(ctx, &mailer.Email{
//		To:      []mailer.Address{{Name: "Anna", Email: "anna@example.com"}},
//		Subject: "Welcome",
//		HTML:    "<p>Hello</p>",
//	})
//	var perr *mailer.ProviderError
//	if errors.As(err, &perr) && perr.Kind == mailer.KindAPI {
//		log.Printf("rejected with status %d", perr.StatusCode)
//	}
//
// Adapters never retry. Retry policy belongs to the caller.
package mailer
