package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"clickstream/internal/model"
)

// PebbleStore implements Store on PebbleDB. Keys are user_id NUL sort_key, so a
// user's window is one bounded iterator.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    12,
		WALBytesPerSync:          1 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func eventKey(userID, sortKey string) []byte {
	k := make([]byte, 0, len(userID)+1+len(sortKey))
	k = append(k, userID...)
	k = append(k, 0)
	return append(k, sortKey...)
}

// userBounds returns [user NUL lower, user 0x01) covering that user's keys from lower on.
func userBounds(userID, lower string) ([]byte, []byte) {
	upper := append([]byte(userID), 1)
	return eventKey(userID, lower), upper
}

func encodeEvent(ev model.Event) ([]byte, error) { return json.Marshal(ev) }

func decodeEvent(val []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(val, &ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func (p *PebbleStore) Put(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(ev); err != nil {
		return err
	}
	k := eventKey(ev.UserID, ev.SortKey)
	_, closer, err := p.db.Get(k)
	if err == nil {
		_ = closer.Close()
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ev.UserID, ev.SortKey)
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("pebble get: %w", err)
	}
	b, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	// Sync so the detector's query right after sees a durable write.
	if err := p.db.Set(k, b, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (p *PebbleStore) Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	lower, upper := userBounds(userID, FormatTimestamp(since))
	return p.collect(ctx, &pebble.IterOptions{LowerBound: lower, UpperBound: upper}, nil)
}

func (p *PebbleStore) Scan(ctx context.Context, pred Predicate) ([]model.Event, error) {
	return p.collect(ctx, nil, pred)
}

func (p *PebbleStore) collect(ctx context.Context, opts *pebble.IterOptions, pred Predicate) ([]model.Event, error) {
	it, err := p.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	var out []model.Event
	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, err := decodeEvent(it.Value())
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(ev) {
			out = append(out, ev)
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	return out, nil
}
