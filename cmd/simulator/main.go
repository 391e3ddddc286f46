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

	"clickstream/internal/config"
	"clickstream/internal/logging"
	"clickstream/internal/metrics"
	"clickstream/internal/simulator"
	"clickstream/internal/transport"
)

func main() {
	cfg := config.Load()
	cfg.RegisterKafkaFlags(flag.CommandLine)
	var (
		data     string
		loops    int
		httpAddr string
	)
	flag.StringVar(&data, "data", "./data/events.csv", "CSV dataset to replay")
	flag.IntVar(&loops, "loops", simulator.DefaultLoops, "number of passes over the dataset")
	flag.DurationVar(&cfg.ReplayDelay, "delay", cfg.ReplayDelay, "pause between sends (0 paces on acks only)")
	flag.IntVar(&cfg.ReplayQueue, "queue", cfg.ReplayQueue, "rows buffered ahead of the sender")
	flag.StringVar(&httpAddr, "http", ":9101", "listen address for /metrics (empty disables)")
	flag.Parse()

	log := logging.Init("simulator", cfg.Env, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := transport.NewWriter(cfg.Brokers(), cfg.KafkaTopic)
	defer w.Close()

	mreg := metrics.NewRegistry()
	if httpAddr != "" {
		srv := &http.Server{Addr: httpAddr, Handler: mreg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
		defer srv.Close()
	}

	sim := simulator.New(w, simulator.Config{Delay: cfg.ReplayDelay, Queue: cfg.ReplayQueue, Loops: loops}, log, mreg)
	log.Info().Str("data", data).Str("topic", cfg.KafkaTopic).Int("loops", loops).Dur("delay", cfg.ReplayDelay).Msg("starting replay")
	st, err := sim.ReplayFile(ctx, data)
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("replay failed")
	}
	log.Info().Int("sent", st.Sent).Int("failed", st.Failed).Int("skipped", st.Skipped).Msg("replay finished")
}
