package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"clickstream/internal/alert"
	"clickstream/internal/config"
	"clickstream/internal/detect"
	"clickstream/internal/httpapi"
	"clickstream/internal/ingest"
	"clickstream/internal/logging"
	"clickstream/internal/metrics"
	"clickstream/internal/report"
	"clickstream/internal/snapshot"
	"clickstream/internal/store"
	"clickstream/internal/transport"
)

func main() {
	cfg := config.Load()
	cfg.RegisterStoreFlags(flag.CommandLine)
	cfg.RegisterDetectorFlags(flag.CommandLine)
	cfg.RegisterNotifyFlags(flag.CommandLine)
	cfg.RegisterKafkaFlags(flag.CommandLine)
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "listen address for /metrics, /healthz, /reports and /snapshots")
	flag.Parse()

	log := logging.Init("ingestor", cfg.Env, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("ingestor failed")
	}
}

type readier interface {
	Ready(ctx context.Context) error
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	log.Info().Str("backend", cfg.StoreBackend).Str("topic", cfg.KafkaTopic).Dur("window", cfg.WindowLength).
		Int("threshold", cfg.BurstThreshold).Msg("starting ingestor")

	raw, err := store.Open(ctx, store.Options{Backend: cfg.StoreBackend, Dir: cfg.StoreDir, Table: cfg.TableName, PostgresDSN: cfg.PostgresDSN})
	if err != nil {
		return err
	}
	st := store.WithTimeout(raw, cfg.StoreTimeout)
	defer st.Close()

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

	mreg := metrics.NewRegistry()
	det := detect.New(st, sink, detect.Config{Window: cfg.WindowLength, Threshold: cfg.BurstThreshold, Cooldown: cfg.AlertCooldown}, log, mreg)
	ig := ingest.NewIngestor(st, det, nil, log, mreg)

	// An embedded store admits one owner, so reports and snapshots are served here too.
	scans := store.WithTimeout(raw, cfg.ReportTimeout)
	deps := httpapi.Deps{
		Reporter:    report.NewAggregator(scans, archive, sink, log, mreg),
		Snapshotter: snapshot.NewWriter(cfg.SnapshotDir, scans),
		Metrics:     mreg.Handler(),
		Log:         log,
	}
	if r, ok := raw.(readier); ok {
		deps.Ready = r.Ready
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.NewRouter(deps), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("ops listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops listener stopped")
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	src, err := transport.NewBatchSource(cfg.KafkaBootstrap, cfg.KafkaGroupID, cfg.KafkaTopic, cfg.BatchSize, cfg.BatchWait, log)
	if err != nil {
		return err
	}
	defer src.Close()

	err = src.Run(ctx, ig.Ingest)
	log.Info().Msg("ingestor stopped")
	return err
}
