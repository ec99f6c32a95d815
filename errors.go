package mailflow

import "errors"

var (
	// ErrNotDispatchable is returned by Dispatch for a job that is not
	// pending, is scheduled in the future, or was claimed concurrently.
	ErrNotDispatchable = errors.New("mailflow: job is not dispatchable")

	// ErrInvalidConfig indicates Config failed validation.
	ErrInvalidConfig = errors.New("mailflow: invalid configuration")

	// ErrUnknownProvider indicates Config.Provider names no adapter.
	ErrUnknownProvider = errors.New("mailflow: unknown provider")

	// ErrAttachmentStorage indicates an attachment could not be offloaded
	// or loaded back.
	ErrAttachmentStorage = errors.New("mailflow: attachment storage failed")

	// ErrDispatchInterrupted is recorded for a job whose dispatcher stopped
	// after claiming it and before recording the outcome.
	ErrDispatchInterrupted = errors.New("mailflow: dispatch interrupted")
)
