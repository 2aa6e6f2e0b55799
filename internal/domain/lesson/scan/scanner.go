// Package scan implements the periodic evaluators that discover lessons
// whose status should change because of elapsed time rather than explicit
// action. Each pass is deterministic (…Once methods) so the cadence layer
// and the tests stay trivial.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/classlane/lessond/internal/domain/lesson/lifecycle"
	"github.com/classlane/lessond/internal/domain/lesson/machine"
	"github.com/classlane/lessond/internal/domain/lesson/model"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/log"
	"github.com/classlane/lessond/internal/metrics"
	"github.com/classlane/lessond/internal/ports"
)

// Scan kinds, used in reports, metrics and logs.
const (
	KindNotStarted  = "not_started"
	KindEmptyRoom   = "empty_room"
	KindLongRunning = "long_running"
	KindRoomOpen    = "room_open"
)

// Config holds the time thresholds for each scan kind.
type Config struct {
	// NotStartedGrace is how long after the scheduled start a lesson with
	// no recorded meeting activity falls to not_started.
	NotStartedGrace time.Duration
	// EmptyRoomAfter is how long a room must stay empty before an
	// in-progress lesson is auto-completed.
	EmptyRoomAfter time.Duration
	// LongRunningAfter caps how long a lesson may run before being
	// auto-completed.
	LongRunningAfter time.Duration
	// RoomOpenLead is how far before the scheduled start the one-shot
	// room-open notification fires.
	RoomOpenLead time.Duration
	// Parallelism bounds concurrent per-lesson work inside one pass.
	// Zero means sequential.
	Parallelism int
}

func DefaultConfig() Config {
	return Config{
		NotStartedGrace:  15 * time.Minute,
		EmptyRoomAfter:   10 * time.Minute,
		LongRunningAfter: 80 * time.Minute,
		RoomOpenLead:     10 * time.Minute,
	}
}

// LessonError is one failed lesson inside an otherwise-continuing pass.
type LessonError struct {
	LessonID string
	Err      error
}

// Report is the per-pass contract: counts plus isolated failures.
type Report struct {
	Kind         string
	Processed    int
	Transitioned int
	Errors       []LessonError
}

type Scanner struct {
	Store   store.LessonStore
	Machine *machine.Machine
	Rooms   ports.RoomProvider
	Sink    ports.NotificationSink
	Conf    Config
	Clock   func() time.Time

	logger zerolog.Logger
}

func NewScanner(st store.LessonStore, m *machine.Machine, rooms ports.RoomProvider, sink ports.NotificationSink, conf Config) *Scanner {
	return &Scanner{
		Store:   st,
		Machine: m,
		Rooms:   rooms,
		Sink:    sink,
		Conf:    conf,
		Clock:   time.Now,
		logger:  log.WithComponent("scan"),
	}
}

func (s *Scanner) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// NotStartedOnce moves scheduled lessons past their grace period with no
// recorded meeting activity to not_started. No-show attribution to a
// specific party is a manual/admin follow-up out of this scan's hands.
func (s *Scanner) NotStartedOnce(ctx context.Context) Report {
	now := s.now()
	candidates, err := s.Store.Query(ctx, store.Filter{
		Statuses:     []model.Status{model.StatusScheduled},
		StartsBefore: now.Add(-s.Conf.NotStartedGrace),
	})
	if err != nil {
		return s.failedPass(KindNotStarted, err)
	}

	return s.forEach(ctx, KindNotStarted, candidates, func(ctx context.Context, rec *model.Lesson) (bool, error) {
		if rec.MeetingStarted() {
			// Somebody joined; leave resolution to the live path.
			return false, nil
		}
		return s.commit(ctx, rec, model.StatusNotStarted, "no participant activity within grace period", now)
	})
}

// EmptyRoomOnce auto-completes in-progress lessons whose room has been
// empty for at least the configured threshold. The provider is re-queried
// per lesson so a participant rejoining resets the clock.
func (s *Scanner) EmptyRoomOnce(ctx context.Context) Report {
	if s.Rooms == nil {
		return Report{Kind: KindEmptyRoom}
	}
	now := s.now()
	candidates, err := s.Store.Query(ctx, store.Filter{
		Statuses: []model.Status{model.StatusInProgress},
	})
	if err != nil {
		return s.failedPass(KindEmptyRoom, err)
	}

	return s.forEach(ctx, KindEmptyRoom, candidates, func(ctx context.Context, rec *model.Lesson) (bool, error) {
		occ, err := s.Rooms.Occupancy(ctx, rec.ID)
		if err != nil {
			return false, err
		}
		if occ.Participants > 0 || now.Sub(occ.Since) < s.Conf.EmptyRoomAfter {
			return false, nil
		}
		return s.commit(ctx, rec, model.StatusCompleted, "auto-completed: empty room", now)
	})
}

// LongRunningOnce auto-completes lessons that have been running longer
// than the configured maximum.
func (s *Scanner) LongRunningOnce(ctx context.Context) Report {
	now := s.now()
	candidates, err := s.Store.Query(ctx, store.Filter{
		Statuses:             []model.Status{model.StatusInProgress},
		MeetingStartedBefore: now.Add(-s.Conf.LongRunningAfter),
	})
	if err != nil {
		return s.failedPass(KindLongRunning, err)
	}

	return s.forEach(ctx, KindLongRunning, candidates, func(ctx context.Context, rec *model.Lesson) (bool, error) {
		return s.commit(ctx, rec, model.StatusCompleted, "auto-completed: duration exceeded", now)
	})
}

// RoomOpenOnce sends the one-shot room-open notification for lessons
// whose start is inside the lead window. The set-once flag on the lesson
// makes the notification exactly-once across overlapping passes.
func (s *Scanner) RoomOpenOnce(ctx context.Context) Report {
	now := s.now()
	notNotified := false
	candidates, err := s.Store.Query(ctx, store.Filter{
		Statuses:     []model.Status{model.StatusScheduled},
		StartsAfter:  now,
		StartsBefore: now.Add(s.Conf.RoomOpenLead),
		RoomNotified: &notNotified,
	})
	if err != nil {
		return s.failedPass(KindRoomOpen, err)
	}

	return s.forEach(ctx, KindRoomOpen, candidates, func(ctx context.Context, rec *model.Lesson) (bool, error) {
		won, err := s.Store.MarkRoomNotified(ctx, rec.ID)
		if err != nil || !won {
			return false, err
		}
		if s.Sink != nil {
			for _, recipient := range []string{rec.TutorID, rec.StudentID} {
				s.Sink.Notify(ctx, ports.Notification{LessonID: rec.ID, Kind: ports.NotifyRoomOpen, Recipient: recipient})
			}
		}
		return true, nil
	})
}

// RunAll executes every scan kind once, in a stable order.
func (s *Scanner) RunAll(ctx context.Context) []Report {
	return []Report{
		s.RoomOpenOnce(ctx),
		s.NotStartedOnce(ctx),
		s.EmptyRoomOnce(ctx),
		s.LongRunningOnce(ctx),
	}
}

// commit drives the transition through the machine with the candidate's
// observed status. A stale loss means another caller already resolved the
// lesson; the trigger is dropped, not an error.
func (s *Scanner) commit(ctx context.Context, rec *model.Lesson, to model.Status, reason string, at time.Time) (bool, error) {
	_, err := s.Machine.TransitionFrom(ctx, rec.ID, rec.Status, to, model.System, reason, at)
	if err != nil {
		if lifecycle.IsStaleOrResolved(err) {
			s.logger.Debug().
				Str("lesson_id", rec.ID).
				Str("to", string(to)).
				Msg("stale trigger dropped")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// forEach applies fn to every candidate with bounded parallelism and
// isolate-and-continue failure semantics.
func (s *Scanner) forEach(ctx context.Context, kind string, candidates []*model.Lesson, fn func(context.Context, *model.Lesson) (bool, error)) Report {
	metrics.ScanRunsTotal.WithLabelValues(kind).Inc()
	rep := Report{Kind: kind, Processed: len(candidates)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if s.Conf.Parallelism > 1 {
		g.SetLimit(s.Conf.Parallelism)
	} else {
		g.SetLimit(1)
	}

	for _, rec := range candidates {
		rec := rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				mu.Lock()
				rep.Errors = append(rep.Errors, LessonError{LessonID: rec.ID, Err: err})
				mu.Unlock()
				return nil
			}
			transitioned, err := fn(gctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Errors = append(rep.Errors, LessonError{LessonID: rec.ID, Err: err})
				metrics.ScanErrorsTotal.WithLabelValues(kind).Inc()
				return nil // isolate-and-continue
			}
			if transitioned {
				rep.Transitioned++
				metrics.ScanTransitionsTotal.WithLabelValues(kind).Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Str("event", "scan.pass").
		Str("kind", kind).
		Int("processed", rep.Processed).
		Int("transitioned", rep.Transitioned).
		Int("errors", len(rep.Errors)).
		Msg("scan pass finished")
	return rep
}

func (s *Scanner) failedPass(kind string, err error) Report {
	metrics.ScanRunsTotal.WithLabelValues(kind).Inc()
	metrics.ScanErrorsTotal.WithLabelValues(kind).Inc()
	s.logger.Error().Err(err).Str("kind", kind).Msg("scan candidate query failed")
	return Report{Kind: kind, Errors: []LessonError{{Err: err}}}
}
