// Package store defines the persistence contracts for lessons and the
// status-history ledger, plus a backend factory.
package store

import (
	"context"
	"time"

	"github.com/classlane/lessond/internal/domain/lesson/model"
)

// Filter selects scan candidates. Zero-valued fields are ignored.
// StartsBefore is inclusive (starts at or before); StartsAfter and
// MeetingStartedBefore are strict.
type Filter struct {
	Statuses             []model.Status
	StartsBefore         time.Time
	StartsAfter          time.Time
	MeetingStartedBefore time.Time
	RoomNotified         *bool
}

// LessonStore is the durable store for lesson records.
//
// Apply is the mutual-exclusion primitive: it runs read → mutate → write
// and the ledger insert inside a single transaction. When expected is
// non-empty and the stored status differs, Apply returns
// lifecycle.ErrStaleState without mutating anything. The entry returned by
// fn is appended with its CreatedAt clamped to be strictly after the
// lesson's latest ledger entry, so per-lesson ledger order is monotonic
// even across concurrent writers.
type LessonStore interface {
	// Create inserts a new lesson together with its initial ledger entry in
	// one transaction. It fails if the id already exists, leaving neither
	// row behind.
	Create(ctx context.Context, rec *model.Lesson, entry *model.HistoryEntry) error
	Put(ctx context.Context, rec *model.Lesson) error
	Get(ctx context.Context, id string) (*model.Lesson, error)
	Query(ctx context.Context, f Filter) ([]*model.Lesson, error)
	Scan(ctx context.Context, fn func(*model.Lesson) error) error
	Apply(ctx context.Context, id string, expected model.Status, fn func(*model.Lesson) (*model.HistoryEntry, error)) (*model.Lesson, error)

	// MarkRoomNotified sets the room-notified flag. It reports whether this
	// call performed the set; false means another writer already had.
	MarkRoomNotified(ctx context.Context, id string) (bool, error)
}

// Ledger is the append-only status history. Entries are never updated or
// deleted. Append fails only on storage errors, never on business grounds.
type Ledger interface {
	Append(ctx context.Context, e *model.HistoryEntry) error
	Latest(ctx context.Context, lessonID string) (*model.HistoryEntry, error)
	All(ctx context.Context, lessonID string) ([]model.HistoryEntry, error)
	HasEntry(ctx context.Context, lessonID string, status model.Status) (bool, error)
	HasInitialEntry(ctx context.Context, lessonID string) (bool, error)
}

// Store bundles the two halves every implementation provides.
type Store interface {
	LessonStore
	Ledger
	Close() error
}
