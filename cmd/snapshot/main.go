package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"clickstream/internal/config"
	"clickstream/internal/httpapi"
	"clickstream/internal/logging"
	"clickstream/internal/snapshot"
	"clickstream/internal/store"
)

func main() {
	cfg := config.Load()
	cfg.RegisterStoreFlags(flag.CommandLine)
	var mode, id, remote string
	flag.StringVar(&mode, "mode", "dump", "dump|restore")
	flag.StringVar(&cfg.SnapshotDir, "dir", cfg.SnapshotDir, "snapshot directory")
	flag.StringVar(&id, "id", "", "snapshot id (dump default: current UTC time, restore default: latest)")
	flag.StringVar(&remote, "remote", "", "dump through the /snapshots endpoint of the process owning the store")
	flag.Parse()

	log := logging.Init("snapshot", cfg.Env, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if remote != "" && mode == "dump" {
		m, err := httpapi.NewClient(remote, cfg.ReportTimeout+5*time.Second).Snapshot(ctx, id)
		if err != nil {
			log.Fatal().Err(err).Str("remote", remote).Msg("remote snapshot failed")
		}
		log.Info().Str("id", m.SnapshotID).Int("events", m.Events).Msg("snapshot written by store owner")
		return
	}
	if err := run(ctx, cfg, mode, cfg.SnapshotDir, id, log); err != nil {
		log.Fatal().Err(err).Str("mode", mode).Msg("snapshot failed")
	}
}

func run(ctx context.Context, cfg config.Config, mode, dir, id string, log zerolog.Logger) error {
	st, err := store.Open(ctx, store.Options{Backend: cfg.StoreBackend, Dir: cfg.StoreDir, Table: cfg.TableName, PostgresDSN: cfg.PostgresDSN})
	if err != nil {
		return err
	}
	defer st.Close()

	switch mode {
	case "restore":
		res, err := snapshot.Restore(ctx, dir, id, st)
		if err != nil {
			return err
		}
		log.Info().Int("applied", res.Applied).Int("skipped", res.Skipped).Msg("restore completed")
	case "dump":
		if id == "" {
			id = snapshot.NewID(time.Now())
		}
		m, err := snapshot.Write(ctx, dir, id, st)
		if err != nil {
			return err
		}
		log.Info().Str("id", m.SnapshotID).Int("events", m.Events).Msg("snapshot written")
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}
