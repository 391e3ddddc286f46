package store

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// timestampLayout is fixed width so that lexical order equals time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t as the leading component of a sort key.
func FormatTimestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

// Sequencer assigns txn timestamps and sort keys for one ingestor instance.
// Timestamps are strictly increasing per instance; the instance id and counter
// keep keys unique across instances writing the same user in the same nanosecond.
type Sequencer struct {
	mu       sync.Mutex
	instance string
	now      func() time.Time
	last     time.Time
	seq      uint64
}

// NewSequencer returns a Sequencer. An empty instance gets a random id; a nil now uses time.Now.
func NewSequencer(instance string, now func() time.Time) *Sequencer {
	if instance == "" {
		instance = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if now == nil {
		now = time.Now
	}
	return &Sequencer{instance: instance, now: now}
}

// Instance returns the tie-breaker id embedded in every key.
func (s *Sequencer) Instance() string { return s.instance }

// Next returns the next txn timestamp and its sort key.
func (s *Sequencer) Next() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	s.seq++
	return t, fmt.Sprintf("%s#%s#%012d", FormatTimestamp(t), s.instance, s.seq)
}

// TimestampFromSortKey parses the txn timestamp leading a sort key.
func TimestampFromSortKey(key string) (time.Time, bool) {
	if len(key) < len(timestampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, key[:len(timestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
