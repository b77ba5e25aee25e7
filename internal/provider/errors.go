package provider

import "errors"

// Kind is the fixed error taxonomy: every adapter call resolves to exactly
// one of these, never a bare error.
type Kind int

const (
	// KindTransient covers network errors, 408/429/5xx, and
	// provider-specific overload codes. Triggers backoff + retry, possibly
	// against a different key.
	KindTransient Kind = iota
	// KindPermanent covers 4xx other than 408/429, schema-invalid bodies,
	// and empty content where the provider's contract guarantees content.
	// Stored as a permanent_error row so the cell is not retried within
	// the window.
	KindPermanent
	// KindMalformed covers unparseable bodies. Treated as transient for
	// the first two attempts, then permanent (the Worker enforces that
	// escalation, not the adapter).
	KindMalformed
)

// CallError is the typed error every Provider Adapter returns on failure.
type CallError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	return e.Err.Error()
}

func (e *CallError) Unwrap() error {
	return e.Err
}

func NewTransient(statusCode int, err error) *CallError {
	return &CallError{Kind: KindTransient, StatusCode: statusCode, Err: err}
}

func NewPermanent(statusCode int, err error) *CallError {
	return &CallError{Kind: KindPermanent, StatusCode: statusCode, Err: err}
}

func NewMalformed(err error) *CallError {
	return &CallError{Kind: KindMalformed, Err: err}
}

// AsCallError unwraps err into a *CallError, defaulting an unrecognized
// error to transient so an unexpected failure gets retried rather than
// silently poisoning the tensor with a permanent_error row.
func AsCallError(err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return NewTransient(0, err)
}
