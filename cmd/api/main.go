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
)

func main() {
	cfg := config.Load()
	cfg.RegisterStoreFlags(flag.CommandLine)
	cfg.RegisterDetectorFlags(flag.CommandLine)
	cfg.RegisterNotifyFlags(flag.CommandLine)
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "listen address")
	flag.Parse()

	log := logging.Init("api", cfg.Env, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("api failed")
	}
}

type readier interface {
	Ready(ctx context.Context) error
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
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
	scans := store.WithTimeout(raw, cfg.ReportTimeout)
	deps := httpapi.Deps{
		Reporter:    report.NewAggregator(scans, archive, sink, log, mreg),
		Ingester:    ingest.NewIngestor(st, det, nil, log, mreg),
		Snapshotter: snapshot.NewWriter(cfg.SnapshotDir, scans),
		Metrics:     mreg.Handler(),
		Log:         log,
	}
	if r, ok := raw.(readier); ok {
		deps.Ready = r.Ready
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.NewRouter(deps), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("backend", cfg.StoreBackend).Msg("api listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(sctx)
}
