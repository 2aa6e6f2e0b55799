// Package ports declares the boundary contracts the lesson core consumes.
// Implementations live at the edges (internal/rooms, internal/notify); the
// core only holds the interfaces.
package ports

import (
	"context"
	"time"
)

// Occupancy is a point-in-time report from the meeting-room provider.
// Since is the moment the room entered its current participant count.
type Occupancy struct {
	Participants int
	Since        time.Time
}

// RoomProvider reports room occupancy for a lesson. The provider owns the
// meeting connection; the core only reads.
type RoomProvider interface {
	Occupancy(ctx context.Context, lessonID string) (Occupancy, error)
}

// NotificationKind classifies outbound notifications.
type NotificationKind string

const (
	NotifyRoomOpen  NotificationKind = "room_open"
	NotifyCancelled NotificationKind = "lesson_cancelled"
	NotifyNoShow    NotificationKind = "lesson_no_show"
	NotifyCompleted NotificationKind = "lesson_completed"
)

// Notification is a fire-and-forget delivery request.
type Notification struct {
	LessonID  string
	Kind      NotificationKind
	Recipient string
}

// NotificationSink accepts notification requests. Delivery failures are the
// sink's problem; they are never surfaced back into the state machine.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification)
}
