package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"clickstream/internal/alert"
	"clickstream/internal/config"
	"clickstream/internal/httpapi"
	"clickstream/internal/logging"
	"clickstream/internal/report"
	"clickstream/internal/snapshot"
	"clickstream/internal/store"
)

type options struct {
	brand       string
	every       time.Duration
	snapshotDir string
	snapshotID  string
	remote      string
}

func main() {
	cfg := config.Load()
	cfg.RegisterStoreFlags(flag.CommandLine)
	cfg.RegisterNotifyFlags(flag.CommandLine)
	var o options
	flag.StringVar(&o.brand, "brand", cfg.ReportBrand, "brand to report on")
	flag.DurationVar(&o.every, "every", 0, "repeat on this interval (0 runs once)")
	flag.StringVar(&o.snapshotDir, "snapshot-dir", "", "read events from a snapshot directory instead of the live store")
	flag.StringVar(&o.snapshotID, "snapshot-id", "", "snapshot to read (default latest)")
	flag.StringVar(&o.remote, "remote", "", "base URL of the process owning the store (e.g. the ingestor's ops listener); it archives and notifies")
	flag.Parse()

	log := logging.Init("reporter", cfg.Env, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, o, log); err != nil {
		log.Fatal().Err(err).Msg("reporter failed")
	}
}

func openScanner(ctx context.Context, cfg config.Config, o options) (store.Scanner, func() error, error) {
	if o.snapshotDir != "" {
		snap, err := snapshot.Open(o.snapshotDir, o.snapshotID)
		if err != nil {
			return nil, nil, err
		}
		return snap, func() error { return nil }, nil
	}
	raw, err := store.Open(ctx, store.Options{Backend: cfg.StoreBackend, Dir: cfg.StoreDir, Table: cfg.TableName, PostgresDSN: cfg.PostgresDSN})
	if err != nil {
		return nil, nil, err
	}
	st := store.WithTimeout(raw, cfg.ReportTimeout)
	return st, st.Close, nil
}

func run(ctx context.Context, cfg config.Config, o options, log zerolog.Logger) error {
	if o.remote != "" {
		return schedule(ctx, o, log, httpapi.NewClient(o.remote, cfg.ReportTimeout+5*time.Second))
	}
	sc, closeStore, err := openScanner(ctx, cfg, o)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, closeSink, err := alert.Open(ctx, alert.Options{
		Sinks: cfg.AlertSinks, File: cfg.AlertFile,
		KafkaBootstrap: cfg.KafkaBootstrap, KafkaTopic: cfg.AlertTopic,
		RedisAddr: cfg.RedisAddr, RedisChannel: cfg.AlertChannel,
	}, log)
	if err != nil {
		return err
	}
	defer closeSink()

	archive, closeArchive, err := report.OpenArchive(cfg.ReportArchive, cfg.ReportBucket, cfg.Brokers(), cfg.ReportTopic)
	if err != nil {
		return err
	}
	defer closeArchive()

	return schedule(ctx, o, log, report.NewAggregator(sc, archive, sink, log, nil))
}

// schedule prints one report, or one per tick when o.every is set.
func schedule(ctx context.Context, o options, log zerolog.Logger, rep httpapi.Reporter) error {
	enc := json.NewEncoder(os.Stdout)
	once := func() error {
		r, err := rep.Generate(ctx, o.brand)
		if err != nil {
			return err
		}
		return enc.Encode(r)
	}
	if o.every <= 0 {
		return once()
	}

	ticker := time.NewTicker(o.every)
	defer ticker.Stop()
	for {
		if err := once(); err != nil {
			log.Error().Err(err).Str("brand", o.brand).Msg("scheduled report failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
