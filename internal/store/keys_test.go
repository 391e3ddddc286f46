package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_MonotonicUnderFrozenClock(t *testing.T) {
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seq := NewSequencer("inst", func() time.Time { return frozen })

	t1, k1 := seq.Next()
	t2, k2 := seq.Next()

	assert.Equal(t, frozen, t1)
	assert.Equal(t, frozen.Add(time.Nanosecond), t2)
	assert.Less(t, k1, k2)
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z#inst#000000000001", k1)
}

func TestSequencer_ClockGoingBackwards(t *testing.T) {
	times := []time.Time{
		time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC),
		time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	i := 0
	seq := NewSequencer("x", func() time.Time { t := times[i]; i++; return t })

	t1, _ := seq.Next()
	t2, _ := seq.Next()
	assert.True(t, t2.After(t1))
}

func TestSequencer_RandomInstance(t *testing.T) {
	a, b := NewSequencer("", nil), NewSequencer("", nil)
	assert.Len(t, a.Instance(), 12)
	assert.NotEqual(t, a.Instance(), b.Instance())
	_, k := a.Next()
	assert.True(t, strings.Contains(k, "#"+a.Instance()+"#"))
}

func TestFormatTimestamp_LexicalOrder(t *testing.T) {
	early := time.Date(2024, 5, 1, 12, 0, 0, 999_000_000, time.UTC)
	late := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	assert.Less(t, FormatTimestamp(early), FormatTimestamp(late))

	// non-UTC inputs normalize
	loc := time.FixedZone("X", 3600)
	assert.Equal(t, FormatTimestamp(late), FormatTimestamp(late.In(loc)))
}

func TestTimestampFromSortKey(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	got, ok := TimestampFromSortKey(FormatTimestamp(at) + "#i#000000000001")
	require.True(t, ok)
	assert.Equal(t, at, got)

	_, ok = TimestampFromSortKey("short")
	assert.False(t, ok)
}
