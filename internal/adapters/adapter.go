// Package adapters wraps every external collaborator (transport, webhook
// targets, tabular store, LLM, calendar) behind one narrow interface so the
// outbox and conversation layers never hold provider-specific types
// (spec.md §4.5). Each concrete adapter is wrapped in its own
// gobreaker.CircuitBreaker so a persistently failing collaborator trips
// open quickly instead of timing out on every delivery attempt.
package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrorKind classifies an adapter failure for the outbox's retry decision.
type ErrorKind string

const (
	KindTransient    ErrorKind = "transient"    // retry with backoff
	KindPermanent    ErrorKind = "permanent"    // do not retry, dead-letter immediately
	KindRateLimited  ErrorKind = "rate_limited" // retry after RetryAfter
	KindUnauthorized ErrorKind = "unauthorized" // credential problem, needs operator attention
)

// AdapterError is the only error type adapters are allowed to surface past
// Execute; native client errors are translated at the boundary.
type AdapterError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Operation is an adapter-specific request payload (e.g. a chat message
// send, a spreadsheet row append). Adapters type-assert to their expected
// concrete type and return a *AdapterError{Kind: KindPermanent} for a
// mismatch.
type Operation any

// Result is an adapter-specific response payload.
type Result any

// Adapter is the shared contract every external collaborator implements.
type Adapter interface {
	Name() string
	Execute(ctx context.Context, op Operation) (Result, *AdapterError)
}

// breakerWrapped wraps an Adapter's Execute calls in a gobreaker circuit
// breaker, translating an open-breaker rejection into a transient
// AdapterError so callers never see gobreaker's own sentinel error.
type breakerWrapped struct {
	inner   Adapter
	breaker *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps an adapter so 5 consecutive failures within the
// default gobreaker window trip the breaker open for 30s.
func WithCircuitBreaker(inner Adapter) Adapter {
	st := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &breakerWrapped{inner: inner, breaker: gobreaker.NewCircuitBreaker(st)}
}

func (b *breakerWrapped) Name() string { return b.inner.Name() }

func (b *breakerWrapped) Execute(ctx context.Context, op Operation) (Result, *AdapterError) {
	res, err := b.breaker.Execute(func() (any, error) {
		result, adapterErr := b.inner.Execute(ctx, op)
		if adapterErr != nil {
			return nil, adapterErr
		}
		return result, nil
	})
	if err != nil {
		var adapterErr *AdapterError
		if errors.As(err, &adapterErr) {
			return nil, adapterErr
		}
		// gobreaker's own sentinel (ErrOpenState, ErrTooManyRequests): the
		// breaker itself is rejecting, translate to transient so the outbox
		// retries rather than dead-lettering.
		return nil, &AdapterError{Kind: KindTransient, Err: err}
	}
	return res, nil
}
