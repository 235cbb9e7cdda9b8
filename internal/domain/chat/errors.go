package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("message not found")
	ErrThreadNotFound         = errors.New("thread not found")
	ErrInvalidTarget          = errors.New("only assistant messages can be regenerated")
	ErrInvalidRole            = errors.New("role must be user or assistant")
	ErrNoCausalParent         = errors.New("no preceding user message")
	ErrInvalidCausalParent    = errors.New("causal parent must be a preceding user message in the same thread")
	ErrIdentityMismatch       = errors.New("replacement does not match message id and role")
	ErrRegenerationInProgress = errors.New("regeneration already in progress for message")
	ErrStaleRegeneration      = errors.New("message changed while regeneration was pending")
	ErrDuplicateID            = errors.New("message id already exists")
	ErrNoText                 = errors.New("message has no text")
	ErrInvalidArgument        = errors.New("invalid argument")
)

type ProviderErrorKind string

const (
	ProviderTransient ProviderErrorKind = "transient"
	ProviderPermanent ProviderErrorKind = "permanent"
)

// ProviderError is an upstream generation failure. Transient failures may be
// retried by the caller with backoff.
type ProviderError struct {
	Kind  ProviderErrorKind
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("provider error (%s, model=%s): %v", e.Kind, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Transient() bool { return e != nil && e.Kind == ProviderTransient }

func NewProviderError(kind ProviderErrorKind, model string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Model: model, Err: err}
}

// StoreError is a persistence failure. Deletes that fail mid-cascade are safe to retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("store error (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsProviderError reports whether err carries a ProviderError and returns it.
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
