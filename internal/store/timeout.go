package store

import (
	"context"
	"errors"
	"time"

	"clickstream/internal/apperr"
	"clickstream/internal/model"
)

// TimeoutStore bounds every call on the wrapped Store and classifies failures
// as store-unavailable. Malformed and duplicate keys pass through unclassified.
type TimeoutStore struct {
	inner   Store
	timeout time.Duration
}

// WithTimeout wraps s. A non-positive timeout leaves deadlines to the caller.
func WithTimeout(s Store, timeout time.Duration) *TimeoutStore {
	return &TimeoutStore{inner: s, timeout: timeout}
}

func (t *TimeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *TimeoutStore) Put(ctx context.Context, ev model.Event) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	err := t.inner.Put(ctx, ev)
	if err == nil || errors.Is(err, ErrMalformedKey) || errors.Is(err, ErrDuplicateKey) {
		return err
	}
	return apperr.StoreUnavailable("put event", err)
}

func (t *TimeoutStore) Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	out, err := t.inner.Query(ctx, userID, since)
	if err != nil {
		return nil, apperr.StoreUnavailable("query window", err)
	}
	return out, nil
}

func (t *TimeoutStore) Scan(ctx context.Context, pred Predicate) ([]model.Event, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	out, err := t.inner.Scan(ctx, pred)
	if err != nil {
		return nil, apperr.StoreUnavailable("scan events", err)
	}
	return out, nil
}

func (t *TimeoutStore) Close() error { return t.inner.Close() }
