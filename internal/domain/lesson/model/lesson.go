package model

import "time"

// Lesson is the entity under lifecycle management. It is created when a
// slot is booked and is never physically deleted; cancellation is a
// terminal status, not a removal.
//
// MeetingStartedAt and MeetingEndedAt are reported by the meeting-room
// collaborator; a zero time means "not set". The status field must always
// agree with the latest ledger entry for the lesson.
type Lesson struct {
	ID        string
	TutorID   string
	StudentID string

	// Scheduled window. Both timestamps fall on the same calendar day;
	// the lesson date is the date part of StartsAt.
	StartsAt time.Time
	EndsAt   time.Time

	Status Status

	MeetingStartedAt time.Time
	MeetingEndedAt   time.Time

	// RoomNotified guards against duplicate "room open" notifications.
	// Set once, never unset.
	RoomNotified bool

	StatusUpdatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LessonDate returns the calendar date of the scheduled window.
func (l *Lesson) LessonDate() time.Time {
	y, m, d := l.StartsAt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.StartsAt.Location())
}

// MeetingStarted reports whether the meeting room ever saw this lesson begin.
func (l *Lesson) MeetingStarted() bool { return !l.MeetingStartedAt.IsZero() }
