package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clickstream/internal/ingest"
)

type fakeConsumer struct {
	msgs    []*ck.Message
	pos     int
	readErr error
	commits int
	seeks   []int64
	closed  bool
}

func (f *fakeConsumer) ReadMessage(time.Duration) (*ck.Message, error) {
	if f.pos >= len(f.msgs) {
		if f.readErr != nil {
			return nil, f.readErr
		}
		return nil, ck.NewError(ck.ErrTimedOut, "timed out", false)
	}
	m := f.msgs[f.pos]
	f.pos++
	return m, nil
}

func (f *fakeConsumer) Commit() ([]ck.TopicPartition, error) {
	f.commits++
	return nil, nil
}

func (f *fakeConsumer) Seek(tp ck.TopicPartition, _ int) error {
	f.seeks = append(f.seeks, int64(tp.Offset))
	for i, m := range f.msgs {
		if m.TopicPartition.Partition == tp.Partition && m.TopicPartition.Offset == tp.Offset {
			f.pos = i
			return nil
		}
	}
	return errors.New("offset out of range")
}

func (f *fakeConsumer) Close() error {
	f.closed = true
	return nil
}

func message(offset int64, value string) *ck.Message {
	topic := "clicks"
	return &ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: 2, Offset: ck.Offset(offset)},
		Value:          []byte(value),
	}
}

func TestNext_FillsUpToSize(t *testing.T) {
	fc := &fakeConsumer{msgs: []*ck.Message{message(1, `{"a":1}`), message(2, `{"a":2}`), message(3, `{"a":3}`)}}
	src := NewBatchSourceWith(fc, 2, time.Second, zerolog.Nop())

	batch, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "clicks-2-1", batch[0].RecordID)
	raw, err := base64.StdEncoding.DecodeString(batch[1].Data)
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(raw))

	batch, err = src.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 1, "timeout flushes a partial batch")
}

func TestNext_ErrorWithEmptyBatch(t *testing.T) {
	fc := &fakeConsumer{readErr: errors.New("broker down")}
	_, err := NewBatchSourceWith(fc, 10, time.Second, zerolog.Nop()).Next(context.Background())
	assert.Error(t, err)
}

func TestNext_ErrorAfterSomeRecordsFlushes(t *testing.T) {
	fc := &fakeConsumer{msgs: []*ck.Message{message(1, "{}")}, readErr: errors.New("broker down")}
	batch, err := NewBatchSourceWith(fc, 10, time.Second, zerolog.Nop()).Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func outcomes(batch []ingest.Record, retry ...int) []ingest.Outcome {
	out := make([]ingest.Outcome, len(batch))
	for i, r := range batch {
		out[i] = ingest.Outcome{RecordID: r.RecordID, Result: ingest.ResultOk, Data: r.Data}
	}
	for _, i := range retry {
		out[i].Result = ingest.ResultError
		out[i].Retry = true
	}
	return out
}

func ids(batch []ingest.Record) []string {
	out := make([]string, len(batch))
	for i, r := range batch {
		out[i] = r.RecordID
	}
	return out
}

func TestRun_CommitsAfterEachBatch(t *testing.T) {
	fc := &fakeConsumer{msgs: []*ck.Message{message(1, "{}"), message(2, "{}"), message(3, "{}"), message(4, "{}")}}
	src := NewBatchSourceWith(fc, 2, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var seen []int
	err := src.Run(ctx, func(_ context.Context, batch []ingest.Record) []ingest.Outcome {
		seen = append(seen, len(batch))
		return outcomes(batch)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, seen)
	assert.Equal(t, 2, fc.commits)

	require.NoError(t, src.Close())
	assert.True(t, fc.closed)
}

func TestRun_ShutdownMidBatchSkipsCommit(t *testing.T) {
	fc := &fakeConsumer{msgs: []*ck.Message{message(1, "{}"), message(2, "{}"), message(3, "{}")}}
	src := NewBatchSourceWith(fc, 2, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var seen []int
	err := src.Run(ctx, func(_ context.Context, batch []ingest.Record) []ingest.Outcome {
		seen = append(seen, len(batch))
		if len(seen) == 2 {
			cancel()
			out := outcomes(batch)
			for i := range out {
				out[i].Result = ingest.ResultError
			}
			return out
		}
		return outcomes(batch)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, seen)
	assert.Equal(t, 1, fc.commits, "the batch cut short by shutdown is left for redelivery")
	assert.Empty(t, fc.seeks)
}

func TestRun_RewindsRetryableFailures(t *testing.T) {
	fc := &fakeConsumer{msgs: []*ck.Message{message(1, "{}"), message(2, "{}"), message(3, "{}"), message(4, "{}")}}
	src := NewBatchSourceWith(fc, 2, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var seen [][]string
	err := src.Run(ctx, func(_ context.Context, batch []ingest.Record) []ingest.Outcome {
		seen = append(seen, ids(batch))
		switch len(seen) {
		case 1:
			return outcomes(batch, 1)
		case 3:
			cancel()
		}
		return outcomes(batch)
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"clicks-2-1", "clicks-2-2"},
		{"clicks-2-2", "clicks-2-3"},
		{"clicks-2-4"},
	}, seen, "only the failed record onwards is redelivered")
	assert.Equal(t, []int64{2}, fc.seeks)
	assert.Equal(t, 1, fc.commits)
}

func TestRun_MissingOutcomesRewindWholeBatch(t *testing.T) {
	fc := &fakeConsumer{msgs: []*ck.Message{message(1, "{}"), message(2, "{}")}}
	src := NewBatchSourceWith(fc, 2, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := src.Run(ctx, func(_ context.Context, batch []ingest.Record) []ingest.Outcome {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{1}, fc.seeks)
	assert.Zero(t, fc.commits)
}

func TestNewBatchSourceWith_Defaults(t *testing.T) {
	src := NewBatchSourceWith(&fakeConsumer{}, 0, 0, zerolog.Nop())
	assert.Equal(t, 100, src.size)
	assert.Equal(t, time.Second, src.wait)
}
