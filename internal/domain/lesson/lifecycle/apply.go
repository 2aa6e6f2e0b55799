package lifecycle

import (
	"time"

	"github.com/classlane/lessond/internal/domain/lesson/model"
)

// Apply mutates the lesson record for a validated transition and returns
// the ledger entry recording it. It does not touch storage; the caller
// commits record and entry atomically.
//
// Meeting timestamps are normally reported by the room provider. Apply
// stamps them only as a fallback so the ordering invariant holds:
// MeetingStartedAt is set on entry to in_progress, MeetingEndedAt when a
// lesson that ran terminalizes.
func Apply(rec *model.Lesson, to model.Status, actor model.Actor, reason string, now time.Time) model.HistoryEntry {
	prev := rec.Status
	rec.Status = to
	rec.StatusUpdatedAt = now
	rec.UpdatedAt = now

	if to == model.StatusInProgress && rec.MeetingStartedAt.IsZero() {
		rec.MeetingStartedAt = now
	}
	if to.IsTerminal() && prev == model.StatusInProgress &&
		!rec.MeetingStartedAt.IsZero() && rec.MeetingEndedAt.IsZero() {
		rec.MeetingEndedAt = now
	}

	return model.HistoryEntry{
		LessonID:        rec.ID,
		Status:          to,
		PreviousStatus:  prev,
		Reason:          reason,
		ChangedByRole:   actor.Role,
		ChangedByUserID: actor.UserID,
		CreatedAt:       now,
	}
}
