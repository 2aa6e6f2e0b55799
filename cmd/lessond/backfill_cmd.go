package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/classlane/lessond/internal/backfill"
	"github.com/classlane/lessond/internal/config"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/log"
)

// runBackfillCmd runs the one-shot ledger reconciliation pass.
func runBackfillCmd(args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report what would be added without writing")
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

	rep, err := backfill.New(st, st).Run(context.Background(), backfill.Options{DryRun: *dryRun})
	if err != nil {
		return err
	}

	if *dryRun {
		fmt.Printf("backfill (dry run): processed=%d would_add=%d errors=%d\n",
			rep.Processed, rep.WouldAdd, len(rep.Errors))
	} else {
		fmt.Printf("backfill: processed=%d added=%d errors=%d\n",
			rep.Processed, rep.Added, len(rep.Errors))
	}
	for _, le := range rep.Errors {
		fmt.Printf("  %s: %v\n", le.LessonID, le.Err)
	}
	return nil
}
