// Package webhook ingests delivery-event callbacks from email providers.
//
// A [Processor] verifies the signature when a secret is configured, decodes
// the provider payload with a [Parser], appends every event to the audit log
// and asks the job store to apply it. Duplicate and out-of-order events are
// recorded but never regress a job; they are reported as
// [OutcomeDuplicate] or [OutcomeRejected] instead of errors so providers do
// not retry them.
//
// Verification schemes:
//
//   - [HMACVerifier]: hex HMAC-SHA256 of the body in X-Mailflow-Signature
//   - [SvixVerifier]: Resend's svix-id/svix-timestamp/svix-signature
package webhook
