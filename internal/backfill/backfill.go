// Package backfill reconstructs missing status-history entries for lessons
// that predate the ledger. It writes historical facts directly to the
// ledger under its own idempotency checks; it never goes through the live
// state machine.
package backfill

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/classlane/lessond/internal/domain/lesson/model"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/log"
	"github.com/classlane/lessond/internal/metrics"
)

const backfillReason = "retroactively backfilled"

// Options controls a backfill run.
type Options struct {
	// DryRun reports what would be added without mutating storage.
	DryRun bool
}

// LessonError is one failed lesson inside an otherwise-continuing run.
type LessonError struct {
	LessonID string
	Err      error
}

// Report summarises a run. Added counts entries actually written;
// WouldAdd counts entries a dry run would have written.
type Report struct {
	Processed int
	Added     int
	WouldAdd  int
	Errors    []LessonError
}

type Backfiller struct {
	Lessons store.LessonStore
	Ledger  store.Ledger

	logger zerolog.Logger
}

func New(lessons store.LessonStore, ledger store.Ledger) *Backfiller {
	return &Backfiller{
		Lessons: lessons,
		Ledger:  ledger,
		logger:  log.WithComponent("backfill"),
	}
}

// Run walks every lesson and synthesizes the ledger entries its current
// state implies. Each synthesis step is individually idempotent, so
// running twice produces no duplicates. A lesson's failure is recorded
// and does not stop the run.
func (b *Backfiller) Run(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{}

	err := b.Lessons.Scan(ctx, func(rec *model.Lesson) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep.Processed++
		if err := b.reconcile(ctx, rec, opts, rep); err != nil {
			b.logger.Warn().Err(err).Str("lesson_id", rec.ID).Msg("backfill failed for lesson")
			rep.Errors = append(rep.Errors, LessonError{LessonID: rec.ID, Err: err})
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	b.logger.Info().
		Str("event", "backfill.done").
		Bool("dry_run", opts.DryRun).
		Int("processed", rep.Processed).
		Int("added", rep.Added).
		Int("would_add", rep.WouldAdd).
		Int("errors", len(rep.Errors)).
		Msg("backfill run finished")
	return rep, nil
}

// reconcile applies the three ordered synthesis steps to one lesson.
func (b *Backfiller) reconcile(ctx context.Context, rec *model.Lesson, opts Options, rep *Report) error {
	// Step 1: initial scheduled entry at lesson creation time.
	hasInitial, err := b.Ledger.HasInitialEntry(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !hasInitial {
		if err := b.synthesize(ctx, opts, rep, &model.HistoryEntry{
			LessonID:      rec.ID,
			Status:        model.StatusScheduled,
			Reason:        backfillReason,
			ChangedByRole: model.RoleSystem,
			CreatedAt:     rec.CreatedAt,
		}); err != nil {
			return err
		}
	}

	// Step 2: in_progress entry at the recorded meeting start.
	ranOrRunning := rec.Status == model.StatusCompleted || rec.Status == model.StatusInProgress
	if rec.MeetingStarted() && ranOrRunning {
		has, err := b.Ledger.HasEntry(ctx, rec.ID, model.StatusInProgress)
		if err != nil {
			return err
		}
		if !has {
			if err := b.synthesize(ctx, opts, rep, &model.HistoryEntry{
				LessonID:       rec.ID,
				Status:         model.StatusInProgress,
				PreviousStatus: model.StatusScheduled,
				Reason:         backfillReason,
				ChangedByRole:  model.RoleSystem,
				CreatedAt:      rec.MeetingStartedAt,
			}); err != nil {
				return err
			}
		}
	}

	// Step 3: the current terminal-or-not_started status itself.
	if rec.Status != model.StatusScheduled && rec.Status != model.StatusInProgress {
		has, err := b.Ledger.HasEntry(ctx, rec.ID, rec.Status)
		if err != nil {
			return err
		}
		if !has {
			prev := model.StatusScheduled
			if rec.MeetingStarted() {
				prev = model.StatusInProgress
			}
			if err := b.synthesize(ctx, opts, rep, &model.HistoryEntry{
				LessonID:       rec.ID,
				Status:         rec.Status,
				PreviousStatus: prev,
				Reason:         backfillReason,
				ChangedByRole:  model.RoleSystem,
				CreatedAt:      statusTimestamp(rec),
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (b *Backfiller) synthesize(ctx context.Context, opts Options, rep *Report, e *model.HistoryEntry) error {
	if opts.DryRun {
		rep.WouldAdd++
		return nil
	}
	if err := b.Ledger.Append(ctx, e); err != nil {
		return err
	}
	rep.Added++
	metrics.BackfillEntriesTotal.Inc()
	return nil
}

// statusTimestamp picks the best-known moment the current status was
// reached: the explicit status change time, else the meeting end, else
// the record's last update.
func statusTimestamp(rec *model.Lesson) time.Time {
	switch {
	case !rec.StatusUpdatedAt.IsZero():
		return rec.StatusUpdatedAt
	case !rec.MeetingEndedAt.IsZero():
		return rec.MeetingEndedAt
	default:
		return rec.UpdatedAt
	}
}
