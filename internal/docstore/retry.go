package docstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds how hard Retrying tries before giving up.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy is used when a zero policy is given.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  10 * time.Second,
	MaxRetries:      5,
}

// Retrying retries transient failures of another Store with exponential
// backoff. ErrNotFound, ErrConflict, client errors and context cancellation
// are returned immediately. When retries run out the error is an
// UnavailableError.
type Retrying struct {
	next   Store
	policy RetryPolicy
	log    zerolog.Logger
}

func NewRetrying(next Store, policy RetryPolicy, log zerolog.Logger) *Retrying {
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy
	}
	return &Retrying{next: next, policy: policy, log: log}
}

func (r *Retrying) Fetch(ctx context.Context, docID string, creds Credentials) (Document, error) {
	var doc Document
	err := r.retry(ctx, "fetch", docID, func() error {
		var err error
		doc, err = r.next.Fetch(ctx, docID, creds)
		return err
	})
	return doc, err
}

func (r *Retrying) Save(ctx context.Context, docID, text string, version int, creds Credentials) error {
	return r.retry(ctx, "save", docID, func() error {
		return r.next.Save(ctx, docID, text, version, creds)
	})
}

func (r *Retrying) Close() error {
	return r.next.Close()
}

func (r *Retrying) retry(ctx context.Context, op, docID string, call func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialInterval
	exp.MaxInterval = r.policy.MaxInterval
	exp.MaxElapsedTime = r.policy.MaxElapsedTime

	var b backoff.BackOff = exp
	if r.policy.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, r.policy.MaxRetries)
	}

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := call()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Str("doc", docID).Str("op", op).
			Int("attempt", attempts).Dur("retry_in", wait).
			Msg("document store call failed, retrying")
	})
	if err == nil || !transient(err) {
		return err
	}
	return &UnavailableError{Op: op, DocID: docID, Attempts: attempts, Err: err}
}

func transient(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
