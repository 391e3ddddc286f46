package alert

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_Publish(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Publish(context.Background(), "DDoS Alert - 1", "user u1"))
	require.NoError(t, s.Publish(context.Background(), "DDoS Alert - 2", "user u2"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	var got []Notification
	for sc.Scan() {
		var n Notification
		require.NoError(t, json.Unmarshal(sc.Bytes(), &n))
		got = append(got, n)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.Equal(t, "user u2", got[1].Message)
	assert.False(t, got[0].SentAt.IsZero())
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSink_Publish(t *testing.T) {
	fk := &fakeKafkaWriter{}
	ks := NewKafkaSinkWith(fk)
	require.NoError(t, ks.Publish(context.Background(), "subj", "msg"))
	require.Len(t, fk.msgs, 1)
	assert.Equal(t, "subj", string(fk.msgs[0].Key))

	var n Notification
	require.NoError(t, json.Unmarshal(fk.msgs[0].Value, &n))
	assert.Equal(t, "msg", n.Message)
}

func TestKafkaSink_PublishFail(t *testing.T) {
	ks := NewKafkaSinkWith(&fakeKafkaWriter{fail: true})
	assert.Error(t, ks.Publish(context.Background(), "s", "m"))
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSink_Publish(t *testing.T) {
	fr := &fakeRedis{}
	rs := NewRedisSinkWith(fr, "alerts")
	require.NoError(t, rs.Publish(context.Background(), "subj", "msg"))
	assert.Equal(t, "alerts", fr.channel)
	assert.Contains(t, string(fr.payload), `"subject":"subj"`)

	fr.err = errors.New("down")
	assert.Error(t, rs.Publish(context.Background(), "subj", "msg"))
	assert.NoError(t, rs.Close())
}

type countingSink struct {
	calls int
	err   error
}

func (c *countingSink) Publish(context.Context, string, string) error {
	c.calls++
	return c.err
}

func TestMultiSink_ContinuesPastFailure(t *testing.T) {
	bad := &countingSink{err: errors.New("boom")}
	good := &countingSink{}
	m := NewMultiSink(bad, good)

	err := m.Publish(context.Background(), "s", "m")
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))
	require.NoError(t, s.Publish(context.Background(), "subj", "hello"))
	assert.Contains(t, buf.String(), `"subject":"subj"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, closeFn, err := Open(ctx, Options{Sinks: []string{"log", "file"}, File: filepath.Join(t.TempDir(), "a.jsonl")}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MultiSink{}, s)
	assert.NoError(t, closeFn())

	s, _, err = Open(ctx, Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LogSink{}, s)

	_, _, err = Open(ctx, Options{Sinks: []string{"sms"}}, zerolog.Nop())
	assert.Error(t, err)
}
