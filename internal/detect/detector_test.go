package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clickstream/internal/apperr"
	"clickstream/internal/metrics"
	"clickstream/internal/model"
	"clickstream/internal/store"
)

var T = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	subjects []string
	messages []string
	err      error
}

func (r *recordingSink) Publish(_ context.Context, subject, message string) error {
	r.subjects = append(r.subjects, subject)
	r.messages = append(r.messages, message)
	return r.err
}

func seed(t *testing.T, st store.Store, user string, offsets ...time.Duration) {
	t.Helper()
	for i, off := range offsets {
		at := T.Add(off)
		ev := model.Event{
			UserID:       user,
			TxnTimestamp: at,
			SortKey:      fmt.Sprintf("%s#t#%012d", store.FormatTimestamp(at), i),
			EventType:    model.EventView,
		}
		require.NoError(t, st.Put(context.Background(), ev))
	}
}

func newDetector(st store.Querier, sink *recordingSink, cfg Config) *Detector {
	d := New(st, sink, cfg, zerolog.Nop(), metrics.NewRegistry())
	d.Now = func() time.Time { return T }
	return d
}

func TestCheck_FiveEventsAlerts(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1", -20*time.Second, -15*time.Second, -10*time.Second, -5*time.Second, 0)
	sink := &recordingSink{}

	a, err := newDetector(st, sink, Config{}).Check(context.Background(), "u1", T)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 5, a.WindowCount)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, T, a.DetectedAt)
	require.Len(t, sink.subjects, 1)
	assert.Equal(t, a.Subject(), sink.subjects[0])
}

func TestCheck_FourEventsIsSafe(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1", -15*time.Second, -10*time.Second, -5*time.Second, 0)
	sink := &recordingSink{}

	a, err := newDetector(st, sink, Config{}).Check(context.Background(), "u1", T)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Empty(t, sink.subjects)
}

func TestCheck_EventsOutsideWindowExcluded(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1",
		-25*time.Second, -25*time.Second+time.Millisecond, -25*time.Second+2*time.Millisecond,
		-5*time.Second, -5*time.Second+time.Millisecond, -5*time.Second+2*time.Millisecond)
	d := newDetector(st, &recordingSink{}, Config{Threshold: 2})

	a, err := d.Check(context.Background(), "u1", T)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, 3, a.WindowCount, "only the three recent events count")
}

func TestCheck_OtherUsersIgnored(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u2", -4*time.Second, -3*time.Second, -2*time.Second, -time.Second, 0)

	a, err := newDetector(st, &recordingSink{}, Config{}).Check(context.Background(), "u1", T)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestCheck_ReAlertsWithoutCooldown(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1", -4*time.Second, -3*time.Second, -2*time.Second, -time.Second, 0)
	sink := &recordingSink{}
	d := newDetector(st, sink, Config{})

	for i := 0; i < 3; i++ {
		a, err := d.Check(context.Background(), "u1", T)
		require.NoError(t, err)
		require.NotNil(t, a)
	}
	assert.Len(t, sink.subjects, 3)
}

func TestCheck_CooldownSuppresses(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1", -4*time.Second, -3*time.Second, -2*time.Second, -time.Second, 0)
	sink := &recordingSink{}
	d := newDetector(st, sink, Config{Cooldown: time.Minute})

	a, err := d.Check(context.Background(), "u1", T)
	require.NoError(t, err)
	require.NotNil(t, a)

	a, err = d.Check(context.Background(), "u1", T.Add(time.Second))
	require.NoError(t, err)
	assert.Nil(t, a, "second alert inside cooldown is suppressed")

	a, err = d.Check(context.Background(), "u1", T.Add(59*time.Second))
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Len(t, sink.subjects, 1)
}

func TestCheck_AlertsAgainAfterCooldown(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1", -4*time.Second, -3*time.Second, -2*time.Second, -time.Second, 0)
	sink := &recordingSink{}
	d := newDetector(st, sink, Config{Cooldown: 5 * time.Second})

	_, err := d.Check(context.Background(), "u1", T)
	require.NoError(t, err)
	a, err := d.Check(context.Background(), "u1", T.Add(6*time.Second))
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Len(t, sink.subjects, 2)
}

func TestCheck_PublishFailureStillReturnsAlert(t *testing.T) {
	st := store.NewInMemoryStore()
	seed(t, st, "u1", -4*time.Second, -3*time.Second, -2*time.Second, -time.Second, 0)
	sink := &recordingSink{err: errors.New("sink down")}

	a, err := newDetector(st, sink, Config{}).Check(context.Background(), "u1", T)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

type failingQuerier struct{}

func (failingQuerier) Query(context.Context, string, time.Time) ([]model.Event, error) {
	return nil, apperr.StoreUnavailable("query window", context.DeadlineExceeded)
}

func TestCheck_StoreFailureSurfaces(t *testing.T) {
	sink := &recordingSink{}
	a, err := newDetector(failingQuerier{}, sink, Config{}).Check(context.Background(), "u1", T)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable))
	assert.Empty(t, sink.subjects)
}

func TestNew_Defaults(t *testing.T) {
	d := New(store.NewInMemoryStore(), &recordingSink{}, Config{Threshold: -1}, zerolog.Nop(), nil)
	assert.Equal(t, DefaultWindow, d.Config().Window)
	assert.Equal(t, DefaultThreshold, d.Config().Threshold)
}
