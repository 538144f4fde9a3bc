package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrUnknownGateway     = errors.New("unknown gateway")
	ErrMalformedPayload   = errors.New("malformed payload")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrEventNotFound      = errors.New("event not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	ErrClaimNotFound      = errors.New("claim not found or expired")
	ErrTransitionDeferred = errors.New("transition not reachable yet")
)

// ErrorKind classifies a processing failure.
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

// PipelineError carries an explicit classification for a processing failure.
type PipelineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(op string, err error) error {
	return &PipelineError{Kind: KindTransient, Op: op, Err: err}
}

// Permanent marks err as not retryable.
func Permanent(op string, err error) error {
	return &PipelineError{Kind: KindPermanent, Op: op, Err: err}
}

// Classify decides whether err is worth retrying. Unclassified errors are
// treated as transient; retries are bounded by max attempts anyway.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrUnknownGateway):
		return KindPermanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrTransitionDeferred):
		return KindTransient
	}
	return KindTransient
}
