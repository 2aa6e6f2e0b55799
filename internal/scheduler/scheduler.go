// Package scheduler runs the scan kinds on independent cron cadences.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/classlane/lessond/internal/domain/lesson/scan"
	"github.com/classlane/lessond/internal/log"
)

// Specs holds one cron expression per scan kind.
type Specs struct {
	NotStarted  string
	EmptyRoom   string
	LongRunning string
	RoomOpen    string
}

// ScanScheduler drives the Scanner on cron cadences. Every run gets its
// own deadline so a stuck room provider cannot wedge a whole pass.
type ScanScheduler struct {
	cronEngine  *cron.Cron
	scanner     *scan.Scanner
	specs       Specs
	runDeadline time.Duration
	logger      zerolog.Logger
}

func New(scanner *scan.Scanner, specs Specs, runDeadline time.Duration) *ScanScheduler {
	if runDeadline <= 0 {
		runDeadline = 2 * time.Minute
	}
	return &ScanScheduler{
		cronEngine:  cron.New(cron.WithLocation(time.Local)),
		scanner:     scanner,
		specs:       specs,
		runDeadline: runDeadline,
		logger:      log.WithComponent("scheduler"),
	}
}

func (s *ScanScheduler) Start() error {
	jobs := []struct {
		spec string
		kind string
		run  func(context.Context) scan.Report
	}{
		{s.specs.NotStarted, scan.KindNotStarted, s.scanner.NotStartedOnce},
		{s.specs.EmptyRoom, scan.KindEmptyRoom, s.scanner.EmptyRoomOnce},
		{s.specs.LongRunning, scan.KindLongRunning, s.scanner.LongRunningOnce},
		{s.specs.RoomOpen, scan.KindRoomOpen, s.scanner.RoomOpenOnce},
	}

	for _, job := range jobs {
		job := job
		if job.spec == "" {
			continue
		}
		_, err := s.cronEngine.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.runDeadline)
			defer cancel()
			rep := job.run(ctx)
			if len(rep.Errors) > 0 {
				s.logger.Warn().
					Str("kind", job.kind).
					Int("errors", len(rep.Errors)).
					Msg("scan run finished with per-lesson errors")
			}
		})
		if err != nil {
			return err
		}
	}

	s.cronEngine.Start()
	s.logger.Info().
		Str("not_started", s.specs.NotStarted).
		Str("empty_room", s.specs.EmptyRoom).
		Str("long_running", s.specs.LongRunning).
		Str("room_open", s.specs.RoomOpen).
		Msg("scan scheduler started")
	return nil
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *ScanScheduler) Stop() {
	ctx := s.cronEngine.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scan scheduler stopped")
}
