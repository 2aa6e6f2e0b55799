package model

import "time"

// HistoryEntry is one record in the append-only status ledger.
//
// Entries for a lesson are ordered by CreatedAt and chain through
// PreviousStatus: entry[i].Status == entry[i+1].PreviousStatus once the
// ledger is fully backfilled. PreviousStatus is empty only for the
// initial "scheduled" entry.
type HistoryEntry struct {
	ID              int64
	LessonID        string
	Status          Status
	PreviousStatus  Status
	Reason          string
	ChangedByRole   Role
	ChangedByUserID string
	CreatedAt       time.Time
}

// Initial reports whether the entry is a lesson's first ledger record.
func (e HistoryEntry) Initial() bool {
	return e.PreviousStatus == "" && e.Status == StatusScheduled
}
