package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clickstream/internal/model"
)

var (
	// ErrMalformedKey is returned by Put when the composite key cannot be stored.
	ErrMalformedKey = errors.New("malformed event key")
	// ErrDuplicateKey is returned by Put when the composite key already exists; events are never overwritten.
	ErrDuplicateKey = errors.New("duplicate event key")
	// ErrStoreLocked is returned by Open when an embedded backend's directory is held by another open.
	ErrStoreLocked = errors.New("store directory locked")
)

// Predicate filters events during a scan. A nil Predicate matches everything.
type Predicate func(ev model.Event) bool

// ByBrand matches events whose brand equals brand exactly.
func ByBrand(brand string) Predicate {
	return func(ev model.Event) bool { return ev.Brand == brand }
}

// Querier returns a user's events with txn_timestamp >= since, ordered by sort key ascending.
type Querier interface {
	Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error)
}

// Scanner returns every event matching pred.
type Scanner interface {
	Scan(ctx context.Context, pred Predicate) ([]model.Event, error)
}

// Store abstracts the event store backend. Put is append-only.
type Store interface {
	Put(ctx context.Context, ev model.Event) error
	Querier
	Scanner
	Close() error
}

// ValidateKey checks the composite (user_id, sort_key) key of ev.
func ValidateKey(ev model.Event) error {
	switch {
	case ev.UserID == "":
		return fmt.Errorf("%w: empty user_id", ErrMalformedKey)
	case strings.ContainsRune(ev.UserID, 0):
		return fmt.Errorf("%w: user_id contains NUL", ErrMalformedKey)
	case ev.SortKey == "":
		return fmt.Errorf("%w: empty sort key", ErrMalformedKey)
	}
	return nil
}

// InMemoryStore is a thread-safe map of per-user slices kept in sort-key order.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]model.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]model.Event)}
}

func (s *InMemoryStore) Put(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(ev); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.data[ev.UserID]
	i := sort.Search(len(events), func(i int) bool { return events[i].SortKey >= ev.SortKey })
	if i < len(events) && events[i].SortKey == ev.SortKey {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ev.UserID, ev.SortKey)
	}
	events = append(events, model.Event{})
	copy(events[i+1:], events[i:])
	events[i] = ev
	s.data[ev.UserID] = events
	return nil
}

func (s *InMemoryStore) Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := FormatTimestamp(since)
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.data[userID]
	i := sort.Search(len(events), func(i int) bool { return events[i].SortKey >= lower })
	out := make([]model.Event, len(events)-i)
	copy(out, events[i:])
	return out, nil
}

func (s *InMemoryStore) Scan(ctx context.Context, pred Predicate) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Event
	for _, events := range s.data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, ev := range events {
			if pred == nil || pred(ev) {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
