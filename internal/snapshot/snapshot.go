// Package snapshot exports the event store to JSON lines and reads it back,
// either as a read-only Scanner for offline reports or as a restore into a live store.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"clickstream/internal/apperr"
	"clickstream/internal/model"
	"clickstream/internal/store"
)

const (
	eventsFile   = "events.jsonl"
	manifestFile = "manifest.latest.json"
	maxLine      = 1 << 20
	idLayout     = "20060102T150405Z"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Manifest points at the most recent complete snapshot in a directory.
type Manifest struct {
	SnapshotID           string `json:"snapshotId"`
	Events               int    `json:"events"`
	CreatedAtEpochSecond int64  `json:"createdAt"`
}

// Write dumps every event from sc into <dir>/<id>/events.jsonl and then marks
// it as the latest snapshot. The manifest is only updated after the file is complete.
func Write(ctx context.Context, dir, id string, sc store.Scanner) (Manifest, error) {
	if id == "" {
		return Manifest{}, apperr.BadRequest("snapshot id is required")
	}
	if !validID.MatchString(id) {
		return Manifest{}, apperr.BadRequest(fmt.Sprintf("invalid snapshot id %q", id))
	}
	events, err := sc.Scan(ctx, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("scan store: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, id), 0o755); err != nil {
		return Manifest{}, fmt.Errorf("mkdir: %w", err)
	}
	file := filepath.Join(dir, id, eventsFile)
	if err := writeLines(file, events); err != nil {
		return Manifest{}, err
	}
	m := Manifest{SnapshotID: id, Events: len(events), CreatedAtEpochSecond: time.Now().UTC().Unix()}
	if err := writeManifest(dir, m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// NewID names a snapshot after t.
func NewID(t time.Time) string { return t.UTC().Format(idLayout) }

// Writer dumps a live store on demand from the process that owns it.
type Writer struct {
	dir string
	src store.Scanner

	// Now names snapshots requested without an id. Split for testability.
	Now func() time.Time
}

func NewWriter(dir string, src store.Scanner) *Writer {
	return &Writer{dir: dir, src: src, Now: time.Now}
}

// Snapshot writes src under id, or under NewID(Now()) when id is empty.
func (w *Writer) Snapshot(ctx context.Context, id string) (Manifest, error) {
	if id == "" {
		id = NewID(w.Now())
	}
	return Write(ctx, w.dir, id, w.src)
}

func writeLines(file string, events []model.Event) error {
	tmp := file + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			out.Close()
			return fmt.Errorf("encode: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("flush: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return os.Rename(tmp, file)
}

func writeManifest(dir string, m Manifest) error {
	b, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, manifestFile))
}

// ReadLatest returns the manifest of the newest snapshot in dir.
func ReadLatest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// resolve maps an empty id to the latest snapshot.
func resolve(dir, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	m, err := ReadLatest(dir)
	if err != nil {
		return "", err
	}
	return m.SnapshotID, nil
}

// Snapshot is a loaded, read-only snapshot. It implements store.Querier and store.Scanner.
type Snapshot struct {
	ID     string
	events []model.Event
}

// Open loads snapshot id from dir; an empty id opens the latest one.
func Open(dir, id string) (*Snapshot, error) {
	id, err := resolve(dir, id)
	if err != nil {
		return nil, err
	}
	events, err := readLines(filepath.Join(dir, id, eventsFile))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].UserID != events[j].UserID {
			return events[i].UserID < events[j].UserID
		}
		return events[i].SortKey < events[j].SortKey
	})
	return &Snapshot{ID: id, events: events}, nil
}

func readLines(path string) ([]model.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	var events []model.Event
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev model.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return events, nil
}

func (s *Snapshot) Len() int { return len(s.events) }

func (s *Snapshot) Scan(ctx context.Context, pred store.Predicate) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if pred == nil || pred(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Snapshot) Query(ctx context.Context, userID string, since time.Time) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lower := store.FormatTimestamp(since)
	out := make([]model.Event, 0)
	for _, ev := range s.events {
		if ev.UserID == userID && ev.SortKey >= lower {
			out = append(out, ev)
		}
	}
	return out, nil
}

// RestoreResult counts restored events. Skipped events already existed in the target.
type RestoreResult struct {
	Applied int
	Skipped int
}

// Restore writes every event of snapshot id into dst, keeping sort keys.
// Running it twice is safe: existing keys are skipped, never overwritten.
func Restore(ctx context.Context, dir, id string, dst store.Store) (RestoreResult, error) {
	snap, err := Open(dir, id)
	if err != nil {
		return RestoreResult{}, err
	}
	var res RestoreResult
	for i, ev := range snap.events {
		err := dst.Put(ctx, ev)
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, store.ErrDuplicateKey):
			res.Skipped++
		default:
			return res, fmt.Errorf("restore event %d of %s: %w", i, snap.ID, err)
		}
	}
	return res, nil
}
