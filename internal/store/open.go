package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Dir         string // pebble/badger data root; the table name is appended
	Table       string
	PostgresDSN string
}

// Open builds the configured backend. Pebble and Badger admit a single owner
// per directory; a second open fails with ErrStoreLocked.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Backend {
	case BackendMemory:
		return NewInMemoryStore(), nil
	case BackendPebble, "":
		dir := filepath.Join(o.Dir, o.Table)
		st, err := NewPebbleStore(dir)
		if err != nil {
			return nil, lockedError(dir, err)
		}
		return st, nil
	case BackendBadger:
		dir := filepath.Join(o.Dir, o.Table)
		st, err := NewBadgerStore(dir)
		if err != nil {
			return nil, lockedError(dir, err)
		}
		return st, nil
	case BackendPostgres:
		return NewPostgresStore(ctx, o.PostgresDSN, o.Table)
	default:
		return nil, fmt.Errorf("unknown store backend %q", o.Backend)
	}
}

// lockedError marks directory lock failures with ErrStoreLocked and points at
// the setups that can share events between processes.
func lockedError(dir string, err error) error {
	if !strings.Contains(strings.ToLower(err.Error()), "lock") {
		return err
	}
	return fmt.Errorf("%w: %s is owned by another process (%v); run a single owner and use its /reports and /snapshots endpoints, or set STORE_BACKEND=postgres",
		ErrStoreLocked, dir, err)
}
