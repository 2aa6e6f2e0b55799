package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/classlane/lessond/internal/config"
	"github.com/classlane/lessond/internal/domain/lesson/machine"
	"github.com/classlane/lessond/internal/domain/lesson/scan"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/log"
	"github.com/classlane/lessond/internal/notify"
	"github.com/classlane/lessond/internal/rooms"
)

// runScanCmd runs every scan kind exactly once, the periodic-check entry
// point for external schedulers (cron, systemd timers).
func runScanCmd(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: cfg.Service})

	st, err := store.Open(cfg.StoreBackend, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	sink := notify.NewLogSink()
	scanner := scan.NewScanner(st, machine.New(st, sink), rooms.NewStatic(), sink, scan.Config{
		NotStartedGrace:  cfg.NotStartedGrace,
		EmptyRoomAfter:   cfg.EmptyRoomAfter,
		LongRunningAfter: cfg.LongRunningAfter,
		RoomOpenLead:     cfg.RoomOpenLead,
		Parallelism:      cfg.ScanParallelism,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ScanDeadline)
	defer cancel()

	for _, rep := range scanner.RunAll(ctx) {
		fmt.Printf("%-12s processed=%d transitioned=%d errors=%d\n",
			rep.Kind, rep.Processed, rep.Transitioned, len(rep.Errors))
		for _, le := range rep.Errors {
			fmt.Printf("  %s: %v\n", le.LessonID, le.Err)
		}
	}
	return nil
}
