package webhook

import "errors"

var (
	// ErrSignatureVerification means the payload was not signed with the
	// configured secret. No job state is touched.
	ErrSignatureVerification = errors.New("webhook: signature verification failed")

	// ErrInvalidPayload means the body could not be decoded.
	ErrInvalidPayload = errors.New("webhook: invalid payload")
)
