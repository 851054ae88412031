package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrCollaborator     = errors.New("collaborator error")
	ErrExternalTool     = errors.New("external tool error")
	ErrTimeout          = errors.New("timeout")
	ErrConfiguration    = errors.New("configuration error")
	ErrExhaustedRetries = errors.New("retries exhausted")
)

// Error kinds reported by Kind. They are stable strings used in logs, API
// responses, and persisted failure reasons.
const (
	KindValidation    = "validation"
	KindNotFound      = "not_found"
	KindCollaborator  = "collaborator"
	KindConfiguration = "configuration"
	KindExhausted     = "exhausted_retries"
	KindInternal      = "internal"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrCollaborator
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Collaborator wraps a failure from an external dependency. Timeouts keep the
// ErrTimeout marker alongside ErrCollaborator.
func Collaborator(stage, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCollaborator) {
		return err
	}
	if errors.Is(err, ErrTimeout) || isDeadline(err) {
		return fmt.Errorf("%w: %w: %s: %w", ErrCollaborator, ErrTimeout, buildDetail(stage, operation, ""), err)
	}
	return Wrap(ErrCollaborator, stage, operation, "", err)
}

// NotFound reports a missing entity of the named kind.
func NotFound(stage, entity string, id any) error {
	return Wrap(ErrNotFound, stage, "", fmt.Sprintf("%s %v not found", entity, id), nil)
}

// ValidationError collects payload problems found before a job is created.
type ValidationError struct {
	Subject  string
	Problems []string
}

// NewValidationError returns nil when no problems were collected.
func NewValidationError(subject string, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Subject: subject, Problems: append([]string(nil), problems...)}
}

func (e *ValidationError) Error() string {
	subject := strings.TrimSpace(e.Subject)
	if subject == "" {
		subject = "payload"
	}
	return fmt.Sprintf("invalid %s: %s", subject, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ErrorKind implements the classifier interface consumed by logging.
func (e *ValidationError) ErrorKind() string { return KindValidation }

// ExhaustedError is the terminal error recorded when a job has used all of its
// attempts.
type ExhaustedError struct {
	JobID    string
	JobType  string
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	cause := "unknown failure"
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return fmt.Sprintf("%s job %s failed after %d attempts: %s", e.JobType, e.JobID, e.Attempts, cause)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrExhaustedRetries}
	}
	return []error{ErrExhaustedRetries, e.Cause}
}

func (e *ExhaustedError) ErrorKind() string { return KindExhausted }

// ErrorClassifier allows errors to declare their classification directly.
type ErrorClassifier interface {
	ErrorKind() string
}

// Kind classifies err into one of the Kind constants. Exhaustion takes
// precedence over the underlying cause.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrExhaustedRetries):
		return KindExhausted
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrCollaborator), errors.Is(err, ErrExternalTool), errors.Is(err, ErrTimeout), isDeadline(err):
		return KindCollaborator
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := strings.TrimSpace(classifier.ErrorKind()); kind != "" {
			return kind
		}
	}
	return KindInternal
}

func isDeadline(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "context deadline exceeded")
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
