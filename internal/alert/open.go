package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Options configures the sinks built by Open.
type Options struct {
	Sinks          []string // log|file|kafka|redis
	File           string
	KafkaBootstrap string
	KafkaTopic     string
	RedisAddr      string
	RedisChannel   string
}

// Open builds the configured sinks behind a MultiSink. The returned close
// function releases every sink that holds a connection.
func Open(ctx context.Context, o Options, log zerolog.Logger) (Sink, func() error, error) {
	var (
		sinks   []Sink
		closers []func() error
	)
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	for _, name := range o.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, NewLogSink(log))
		case "file":
			fs, err := NewFileSink(o.File)
			if err != nil {
				_ = closeAll()
				return nil, nil, fmt.Errorf("init file sink: %w", err)
			}
			sinks = append(sinks, fs)
		case "kafka":
			ks := NewKafkaSink(o.KafkaBootstrap, o.KafkaTopic)
			sinks = append(sinks, ks)
			closers = append(closers, ks.Close)
		case "redis":
			rs, err := NewRedisSink(ctx, o.RedisAddr, o.RedisChannel)
			if err != nil {
				_ = closeAll()
				return nil, nil, fmt.Errorf("init redis sink: %w", err)
			}
			sinks = append(sinks, rs)
			closers = append(closers, rs.Close)
		default:
			_ = closeAll()
			return nil, nil, fmt.Errorf("unknown alert sink %q", name)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, NewLogSink(log))
	}
	if len(sinks) == 1 {
		return sinks[0], closeAll, nil
	}
	return NewMultiSink(sinks...), closeAll, nil
}
