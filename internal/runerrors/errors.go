package runerrors

import (
	"errors"

	"github.com/oellm/evalsched/internal/messages"
)

// RunError is the error type carried between pipeline stages. Error() is
// meant for logging; MessageCode and MessageParams render the user-facing
// report at the top level. Fatal errors abort the run at the stage they
// occurred in; non-fatal errors are logged and the run continues.
type RunError struct {
	messageCode   *messages.MessageCode
	messageParams []any
	fatal         bool
	retryable     bool
}

func (e *RunError) Error() string {
	return messages.GetErrorMessage(e.messageCode, e.messageParams...)
}

func (e *RunError) MessageCode() *messages.MessageCode {
	return e.messageCode
}

func (e *RunError) MessageParams() []any {
	return e.messageParams
}

func (e *RunError) Stage() messages.Stage {
	return e.messageCode.GetStage()
}

func (e *RunError) Fatal() bool {
	return e.fatal
}

// Retryable reports whether the failing operation may be attempted again
// (transient scheduler rejections). Fatal and retryable are independent: a
// retryable error becomes fatal once the attempt cap is exhausted.
func (e *RunError) Retryable() bool {
	return e.retryable
}

func New(messageCode *messages.MessageCode, messageParams ...any) *RunError {
	return &RunError{
		messageCode:   messageCode,
		messageParams: messageParams,
		fatal:         true, // the default is to abort the run
	}
}

func NewRecoverable(messageCode *messages.MessageCode, messageParams ...any) *RunError {
	return &RunError{
		messageCode:   messageCode,
		messageParams: messageParams,
		fatal:         false,
	}
}

func NewRetryable(messageCode *messages.MessageCode, messageParams ...any) *RunError {
	return &RunError{
		messageCode:   messageCode,
		messageParams: messageParams,
		fatal:         true,
		retryable:     true,
	}
}

// AsRunError extracts a *RunError from err, wrapping unknown errors in the
// fallback message so the top level always has something to report.
func AsRunError(err error) *RunError {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	return New(messages.UnknownError, "Error", err.Error())
}

// Constructors for the concrete taxonomy. Naming follows the failure, not
// the component that raised it.

// NewUnknownClusterError is fatal: the tool is running somewhere it has no
// configuration for.
func NewUnknownClusterError(hostname string, patterns []string) *RunError {
	return New(messages.UnknownCluster, "Hostname", hostname, "Patterns", patterns)
}

// NewResourcePreparationError is recoverable: the resource is excluded and
// preparation of the remaining resources continues.
func NewResourcePreparationError(resource string, err error) *RunError {
	return NewRecoverable(messages.ResourceUnavailable, "Resource", resource, "Error", err.Error())
}

func NewManifestBuildError(row string, err error) *RunError {
	return New(messages.ManifestRowInvalid, "Row", row, "Error", err.Error())
}

func NewScriptGenerationError(field string) *RunError {
	return New(messages.ScriptFieldMissing, "Field", field)
}

// NewSchedulerSubmissionError distinguishes transient rejections (retried
// with backoff) from malformed submissions (fatal immediately).
func NewSchedulerSubmissionError(err error, transient bool) *RunError {
	if transient {
		return NewRetryable(messages.SubmissionRejected, "Error", err.Error())
	}
	return New(messages.SubmissionRejected, "Error", err.Error())
}

func NewQueueTimeoutError(limit int, waited string) *RunError {
	return New(messages.QueueTimeout, "Limit", limit, "Waited", waited)
}
