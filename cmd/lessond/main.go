package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classlane/lessond/internal/config"
	"github.com/classlane/lessond/internal/domain/lesson/machine"
	"github.com/classlane/lessond/internal/domain/lesson/scan"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/log"
	"github.com/classlane/lessond/internal/notify"
	"github.com/classlane/lessond/internal/rooms"
	"github.com/classlane/lessond/internal/scheduler"
)

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runDaemon()
	case "scan":
		err = runScanCmd(args)
	case "backfill":
		err = runBackfillCmd(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lessond %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: lessond [command]

commands:
  run        start the lifecycle daemon (default)
  scan       run every scan kind once and print reports
  backfill   reconstruct missing status-history entries (-dry-run)`)
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: cfg.Service})
	logger := log.WithComponent("main")

	st, err := store.Open(cfg.StoreBackend, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	logger.Info().Str("backend", cfg.StoreBackend).Str("path", cfg.DBPath).Msg("lesson store opened")

	sink := notify.NewLogSink()
	m := machine.New(st, sink)
	scanner := scan.NewScanner(st, m, rooms.NewStatic(), sink, scan.Config{
		NotStartedGrace:  cfg.NotStartedGrace,
		EmptyRoomAfter:   cfg.EmptyRoomAfter,
		LongRunningAfter: cfg.LongRunningAfter,
		RoomOpenLead:     cfg.RoomOpenLead,
		Parallelism:      cfg.ScanParallelism,
	})

	sched := scheduler.New(scanner, scheduler.Specs{
		NotStarted:  cfg.CronNotStarted,
		EmptyRoom:   cfg.CronEmptyRoom,
		LongRunning: cfg.CronLongRunning,
		RoomOpen:    cfg.CronRoomOpen,
	}, cfg.ScanDeadline)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listener started")
	}

	logger.Info().Msg("lessond started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	sched.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	logger.Info().Msg("shutdown complete")
	return nil
}
