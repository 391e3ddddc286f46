package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clickstream/internal/apperr"
	"clickstream/internal/model"
	"clickstream/internal/store"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *store.InMemoryStore {
	t.Helper()
	st := store.NewInMemoryStore()
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		ev := model.Event{
			UserID:       fmt.Sprintf("u%d", i%2),
			TxnTimestamp: at,
			SortKey:      fmt.Sprintf("%s#snap#%012d", store.FormatTimestamp(at), i),
			EventType:    model.EventPurchase,
			Brand:        "acme",
			Price:        decimal.RequireFromString("1.10"),
		}
		require.NoError(t, st.Put(context.Background(), ev))
	}
	return st
}

func TestWrite_EventsAndManifest(t *testing.T) {
	dir := t.TempDir()
	m, err := Write(context.Background(), dir, "sid", seeded(t))
	require.NoError(t, err)
	assert.Equal(t, 6, m.Events)

	_, err = os.Stat(filepath.Join(dir, "sid", "events.jsonl"))
	require.NoError(t, err)

	latest, err := ReadLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, "sid", latest.SnapshotID)
}

func TestWrite_RequiresID(t *testing.T) {
	_, err := Write(context.Background(), t.TempDir(), "", store.NewInMemoryStore())
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	for _, id := range []string{"..", "../escape", "a/b", ".hidden"} {
		_, err := Write(context.Background(), t.TempDir(), id, store.NewInMemoryStore())
		assert.True(t, apperr.Is(err, apperr.KindBadRequest), "id %q", id)
	}
}

func TestWriter_NamesSnapshotByTime(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, seeded(t))
	w.Now = func() time.Time { return base }

	m, err := w.Snapshot(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "20240501T120000Z", m.SnapshotID)
	assert.Equal(t, 6, m.Events)

	_, err = w.Snapshot(context.Background(), "manual-1")
	require.NoError(t, err)
	latest, err := ReadLatest(dir)
	require.NoError(t, err)
	assert.Equal(t, "manual-1", latest.SnapshotID)
}

func TestOpen_LatestScanAndQuery(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(context.Background(), dir, "sid", seeded(t))
	require.NoError(t, err)

	snap, err := Open(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "sid", snap.ID)
	assert.Equal(t, 6, snap.Len())

	all, err := snap.Scan(context.Background(), store.ByBrand("acme"))
	require.NoError(t, err)
	assert.Len(t, all, 6)
	total := decimal.Zero
	for _, ev := range all {
		total = total.Add(ev.Price)
	}
	assert.Equal(t, "6.6", total.String())

	// u0 has events at +0s, +2s, +4s
	got, err := snap.Query(context.Background(), "u0", base.Add(2*time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].SortKey < got[1].SortKey)
}

func TestOpen_MissingSnapshot(t *testing.T) {
	_, err := Open(t.TempDir(), "")
	assert.Error(t, err)
	_, err = Open(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestRestore_IntoEmptyStoreAndAgain(t *testing.T) {
	dir := t.TempDir()
	src := seeded(t)
	_, err := Write(context.Background(), dir, "sid", src)
	require.NoError(t, err)

	dst := store.NewInMemoryStore()
	res, err := Restore(context.Background(), dir, "sid", dst)
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Applied: 6}, res)

	want, err := src.Query(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	got, err := dst.Query(context.Background(), "u1", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].SortKey, got[i].SortKey)
	}

	res, err = Restore(context.Background(), dir, "", dst)
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{Skipped: 6}, res)
}

func TestRestore_PebbleTarget(t *testing.T) {
	dir := t.TempDir()
	_, err := Write(context.Background(), dir, "sid", seeded(t))
	require.NoError(t, err)

	ps, err := store.NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	defer ps.Close()

	res, err := Restore(context.Background(), dir, "sid", ps)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Applied)

	all, err := ps.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestOpen_BadLine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bad"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad", "events.jsonl"), []byte("{\"user_id\":\"u\"}\nnot json\n"), 0o644))
	_, err := Open(dir, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
