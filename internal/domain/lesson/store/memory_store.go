package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/classlane/lessond/internal/domain/lesson/lifecycle"
	"github.com/classlane/lessond/internal/domain/lesson/model"
)

// MemoryStore keeps lessons and ledger entries in process memory. It backs
// tests and the "memory" backend; one mutex gives it the same serialization
// Apply gets from a sqlite transaction.
type MemoryStore struct {
	mu      sync.RWMutex
	lessons map[string]*model.Lesson
	history map[string][]model.HistoryEntry
	nextID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lessons: make(map[string]*model.Lesson),
		history: make(map[string][]model.HistoryEntry),
		nextID:  1,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Create(_ context.Context, rec *model.Lesson, entry *model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lessons[rec.ID]; exists {
		return lifecycle.Reject(lifecycle.ErrStorage, rec.ID, "", "", "lesson already exists")
	}
	cp := *rec
	s.lessons[rec.ID] = &cp
	if entry != nil {
		e := *entry
		e.ID = s.nextID
		s.nextID++
		s.history[rec.ID] = append(s.history[rec.ID], e)
		entry.ID = e.ID
	}
	return nil
}

func (s *MemoryStore) Put(_ context.Context, rec *model.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.lessons[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.lessons[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func matches(rec *model.Lesson, f Filter) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if rec.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.StartsBefore.IsZero() && rec.StartsAt.After(f.StartsBefore) {
		return false
	}
	if !f.StartsAfter.IsZero() && !rec.StartsAt.After(f.StartsAfter) {
		return false
	}
	if !f.MeetingStartedBefore.IsZero() {
		if rec.MeetingStartedAt.IsZero() || !rec.MeetingStartedAt.Before(f.MeetingStartedBefore) {
			return false
		}
	}
	if f.RoomNotified != nil && rec.RoomNotified != *f.RoomNotified {
		return false
	}
	return true
}

func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*model.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Lesson
	for _, rec := range s.lessons {
		if matches(rec, f) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Scan(_ context.Context, fn func(*model.Lesson) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.lessons))
	for id := range s.lessons {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		s.mu.RLock()
		rec, ok := s.lessons[id]
		var cp model.Lesson
		if ok {
			cp = *rec
		}
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Apply(_ context.Context, id string, expected model.Status, fn func(*model.Lesson) (*model.HistoryEntry, error)) (*model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lessons[id]
	if !ok {
		return nil, lifecycle.Reject(lifecycle.ErrNotFound, id, "", "", "")
	}
	if expected != "" && rec.Status != expected {
		return nil, lifecycle.Reject(lifecycle.ErrStaleState, id, expected, rec.Status, "status changed since read")
	}

	work := *rec
	entry, err := fn(&work)
	if err != nil {
		return nil, err
	}

	if entry != nil {
		e := *entry
		e.ID = s.nextID
		s.nextID++
		e.CreatedAt = clampAfterLatest(e.CreatedAt, s.history[id])
		s.history[id] = append(s.history[id], e)
	}
	s.lessons[id] = &work
	cp := work
	return &cp, nil
}

func (s *MemoryStore) MarkRoomNotified(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lessons[id]
	if !ok {
		return false, lifecycle.Reject(lifecycle.ErrNotFound, id, "", "", "")
	}
	if rec.RoomNotified {
		return false, nil
	}
	rec.RoomNotified = true
	rec.UpdatedAt = time.Now()
	return true, nil
}

// --- Ledger ---

func (s *MemoryStore) Append(_ context.Context, e *model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.ID = s.nextID
	s.nextID++
	s.history[e.LessonID] = append(s.history[e.LessonID], cp)
	e.ID = cp.ID
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, lessonID string) (*model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[lessonID]
	if len(entries) == 0 {
		return nil, nil
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	cp := latest
	return &cp, nil
}

func (s *MemoryStore) All(_ context.Context, lessonID string) ([]model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := append([]model.HistoryEntry(nil), s.history[lessonID]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (s *MemoryStore) HasEntry(_ context.Context, lessonID string, status model.Status) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.history[lessonID] {
		if e.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) HasInitialEntry(_ context.Context, lessonID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.history[lessonID] {
		if e.Initial() {
			return true, nil
		}
	}
	return false, nil
}

// clampAfterLatest keeps per-lesson ledger order strictly monotonic even
// when a caller passes a stale wall-clock time.
func clampAfterLatest(at time.Time, entries []model.HistoryEntry) time.Time {
	var latest time.Time
	for _, e := range entries {
		if e.CreatedAt.After(latest) {
			latest = e.CreatedAt
		}
	}
	if !at.After(latest) {
		return latest.Add(time.Microsecond)
	}
	return at
}
