package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrQuotaExceeded = errors.New("quota exceeded")
)

// ErrorKind classifies a terminal job failure. Exactly three kinds exist
// because each implies a different remediation for the user.
type ErrorKind string

const (
	// ErrorKindQuality means the input itself cannot succeed. Never retried.
	ErrorKindQuality ErrorKind = "quality_issue"
	// ErrorKindTransient covers network/timeout-class failures presumed
	// self-resolving. Eligible for one automatic retry.
	ErrorKindTransient ErrorKind = "transient_error"
	// ErrorKindServer covers unexpected runtime failures. Eligible for one
	// automatic retry; full detail stays server-side.
	ErrorKindServer ErrorKind = "server_error"
)

// JobError is the classified form of any failure crossing the worker runtime
// boundary. Message and Suggestion are user-facing; the wrapped cause is for
// logs only and never reaches a client.
type JobError struct {
	Kind       ErrorKind
	Message    string
	Suggestion string
	Retryable  bool
	cause      error
}

func (e *JobError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *JobError) Unwrap() error { return e.cause }

// QualityError reports an input that can never succeed, with an actionable
// suggestion for the user.
func QualityError(message, suggestion string) *JobError {
	return &JobError{Kind: ErrorKindQuality, Message: message, Suggestion: suggestion}
}

// TransientError wraps a failure presumed to be self-resolving.
func TransientError(message string, cause error) *JobError {
	return &JobError{Kind: ErrorKindTransient, Message: message, Retryable: true, cause: cause}
}

// ServerError wraps an unexpected internal failure behind a generic message.
func ServerError(message string, cause error) *JobError {
	return &JobError{Kind: ErrorKindServer, Message: message, Retryable: true, cause: cause}
}

// Classify maps an arbitrary stage or infrastructure error onto the three-kind
// taxonomy. Already-classified errors pass through unchanged; deadline and
// network failures become transient; everything else is a server error.
func Classify(err error) *JobError {
	var jerr *JobError
	if errors.As(err, &jerr) {
		return jerr
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return TransientError("Processing timed out. Please try again.", err)
	case errors.As(err, &netErr):
		return TransientError("A network error interrupted processing. Please try again.", err)
	default:
		return ServerError("Something went wrong. Please try again later.", err)
	}
}
