// Package machine is the single authority for mutating lesson status.
// Every other component, including the scan jobs, goes through it.
package machine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classlane/lessond/internal/domain/lesson/lifecycle"
	"github.com/classlane/lessond/internal/domain/lesson/model"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/log"
	"github.com/classlane/lessond/internal/metrics"
	"github.com/classlane/lessond/internal/ports"
)

// DefaultRetries bounds optimistic-concurrency retries for live callers.
const DefaultRetries = 3

type Machine struct {
	Store store.LessonStore
	Sink  ports.NotificationSink
	Clock func() time.Time

	logger zerolog.Logger
}

func New(st store.LessonStore, sink ports.NotificationSink) *Machine {
	return &Machine{
		Store:  st,
		Sink:   sink,
		Clock:  time.Now,
		logger: log.WithComponent("machine"),
	}
}

func (m *Machine) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// BookingRequest describes a new lesson slot.
type BookingRequest struct {
	TutorID   string
	StudentID string
	StartsAt  time.Time
	EndsAt    time.Time
}

// Book creates a lesson in status scheduled together with its initial
// ledger entry, committed as one transaction so the consistency invariant
// holds from the first moment the lesson exists.
func (m *Machine) Book(ctx context.Context, req BookingRequest) (*model.Lesson, error) {
	now := m.now()
	rec := &model.Lesson{
		ID:              uuid.NewString(),
		TutorID:         req.TutorID,
		StudentID:       req.StudentID,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
		Status:          model.StatusScheduled,
		StatusUpdatedAt: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry := &model.HistoryEntry{
		LessonID:      rec.ID,
		Status:        model.StatusScheduled,
		Reason:        "lesson booked",
		ChangedByRole: model.RoleSystem,
		CreatedAt:     now,
	}
	if err := m.Store.Create(ctx, rec, entry); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("event", "lesson.booked").
		Str("lesson_id", rec.ID).
		Time("starts_at", rec.StartsAt).
		Msg("lesson booked")
	return rec, nil
}

// Transition validates and applies a status change requested by an actor.
// On success the lesson row and exactly one ledger entry are committed in
// the same transaction. On failure nothing is mutated and the specific
// taxonomy error is returned.
func (m *Machine) Transition(ctx context.Context, id string, requested model.Status, actor model.Actor, reason string, at time.Time) (*model.Lesson, error) {
	cur, err := m.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, m.reject(lifecycle.Reject(lifecycle.ErrNotFound, id, "", requested, ""))
	}
	return m.TransitionFrom(ctx, id, cur.Status, requested, actor, reason, at)
}

// TransitionFrom applies a status change that was decided against an
// observed status. If the stored status no longer matches, the result is
// ErrStaleState: live callers retry with fresh state, scan callers drop
// the trigger as stale.
func (m *Machine) TransitionFrom(ctx context.Context, id string, observed, requested model.Status, actor model.Actor, reason string, at time.Time) (*model.Lesson, error) {
	if !requested.Valid() {
		return nil, m.reject(lifecycle.Reject(lifecycle.ErrIllegalTransition, id, observed, requested, "unknown status"))
	}
	if at.IsZero() {
		at = m.now()
	}

	rec, err := m.Store.Apply(ctx, id, observed, func(rec *model.Lesson) (*model.HistoryEntry, error) {
		if err := lifecycle.CheckEdge(id, rec.Status, requested, actor.Role); err != nil {
			return nil, err
		}
		entry := lifecycle.Apply(rec, requested, actor, reason, at)
		return &entry, nil
	})
	if err != nil {
		return nil, m.reject(err)
	}

	metrics.TransitionsTotal.WithLabelValues(string(observed), string(requested), string(actor.Role)).Inc()
	m.logger.Info().
		Str("event", "lesson.transition").
		Str("lesson_id", id).
		Str("from", string(observed)).
		Str("to", string(requested)).
		Str("role", string(actor.Role)).
		Str("reason", reason).
		Msg("status transition committed")

	m.emit(ctx, rec, requested)
	return rec, nil
}

// TransitionWithRetry is the live-action entry point: it re-fetches and
// retries a bounded number of times when losing an optimistic-concurrency
// race. Validation errors are terminal and never retried.
func (m *Machine) TransitionWithRetry(ctx context.Context, id string, requested model.Status, actor model.Actor, reason string) (*model.Lesson, error) {
	var lastErr error
	for attempt := 0; attempt <= DefaultRetries; attempt++ {
		rec, err := m.Transition(ctx, id, requested, actor, reason, m.now())
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, lifecycle.ErrStaleState) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m *Machine) reject(err error) error {
	metrics.TransitionRejectTotal.WithLabelValues(rejectCode(err)).Inc()
	return err
}

func rejectCode(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return "not_found"
	case errors.Is(err, lifecycle.ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, lifecycle.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, lifecycle.ErrStaleState):
		return "stale_state"
	case errors.Is(err, lifecycle.ErrStorage):
		return "storage"
	default:
		return "unknown"
	}
}

// emit hands fire-and-forget notifications to the sink for transitions the
// parties care about.
func (m *Machine) emit(ctx context.Context, rec *model.Lesson, to model.Status) {
	if m.Sink == nil {
		return
	}
	var kind ports.NotificationKind
	switch to {
	case model.StatusCancelled, model.StatusStudentCancel, model.StatusTutorCancel:
		kind = ports.NotifyCancelled
	case model.StatusNoShowStudent, model.StatusNoShowTutor:
		kind = ports.NotifyNoShow
	case model.StatusCompleted:
		kind = ports.NotifyCompleted
	default:
		return
	}
	for _, recipient := range []string{rec.TutorID, rec.StudentID} {
		m.Sink.Notify(ctx, ports.Notification{LessonID: rec.ID, Kind: kind, Recipient: recipient})
	}
}
