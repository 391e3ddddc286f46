package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"clickstream/internal/model"
)

// BadgerStore implements Store using BadgerDB with the same key layout as PebbleStore.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil).WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) Put(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(ev); err != nil {
		return err
	}
	val, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	k := eventKey(ev.UserID, ev.SortKey)
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, ev.UserID, ev.SortKey)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("badger get: %w", err)
		}
		return txn.Set(k, val)
	})
}

func (b *BadgerStore) Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	lower := eventKey(userID, FormatTimestamp(since))
	prefix := append([]byte(userID), 0)
	var out []model.Event
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(lower); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := itemEvent(it.Item())
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) Scan(ctx context.Context, pred Predicate) ([]model.Event, error) {
	var out []model.Event
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			ev, err := itemEvent(it.Item())
			if err != nil {
				return err
			}
			if pred == nil || pred(ev) {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out, err
}

func itemEvent(item *badger.Item) (model.Event, error) {
	v, err := item.ValueCopy(nil)
	if err != nil {
		return model.Event{}, err
	}
	return decodeEvent(v)
}
