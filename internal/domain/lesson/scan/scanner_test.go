package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classlane/lessond/internal/domain/lesson/machine"
	"github.com/classlane/lessond/internal/domain/lesson/model"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/notify"
	"github.com/classlane/lessond/internal/ports"
	"github.com/classlane/lessond/internal/rooms"
)

var start = time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.MemoryStore
	machine *machine.Machine
	rooms   *rooms.Static
	sink    *notify.Recorder
	scanner *Scanner
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewMemoryStore(),
		rooms: rooms.NewStatic(),
		sink:  notify.NewRecorder(),
		now:   start,
	}
	f.machine = machine.New(f.store, f.sink)
	f.machine.Clock = func() time.Time { return f.now }
	f.scanner = NewScanner(f.store, f.machine, f.rooms, f.sink, DefaultConfig())
	f.scanner.Clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) seed(t *testing.T, id string, status model.Status, mod func(*model.Lesson)) {
	t.Helper()
	rec := &model.Lesson{
		ID:              id,
		TutorID:         "t1",
		StudentID:       "s1",
		StartsAt:        start,
		EndsAt:          start.Add(60 * time.Minute),
		Status:          status,
		StatusUpdatedAt: start.Add(-time.Hour),
		CreatedAt:       start.Add(-24 * time.Hour),
		UpdatedAt:       start.Add(-time.Hour),
	}
	if mod != nil {
		mod(rec)
	}
	require.NoError(t, f.store.Put(context.Background(), rec))
}

func TestNotStartedOnce_PastGrace(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusScheduled, nil)
	f.now = start.Add(16 * time.Minute)

	rep := f.scanner.NotStartedOnce(context.Background())
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 1, rep.Transitioned)
	require.Empty(t, rep.Errors)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusNotStarted, cur.Status)

	latest, err := f.store.Latest(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusNotStarted, latest.Status)
	require.Equal(t, model.StatusScheduled, latest.PreviousStatus)
	require.Equal(t, model.RoleSystem, latest.ChangedByRole)
}

func TestNotStartedOnce_ExactGraceBoundary(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusScheduled, nil)
	f.now = start.Add(15 * time.Minute)

	rep := f.scanner.NotStartedOnce(context.Background())
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 1, rep.Transitioned)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusNotStarted, cur.Status)
}

func TestNotStartedOnce_InsideGrace(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusScheduled, nil)
	f.now = start.Add(10 * time.Minute)

	rep := f.scanner.NotStartedOnce(context.Background())
	require.Equal(t, 0, rep.Processed)
	require.Equal(t, 0, rep.Transitioned)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, cur.Status)
}

func TestNotStartedOnce_SkipsWhenMeetingStarted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusScheduled, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start.Add(2 * time.Minute)
	})
	f.now = start.Add(20 * time.Minute)

	rep := f.scanner.NotStartedOnce(context.Background())
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 0, rep.Transitioned)
	require.Empty(t, rep.Errors)
}

func TestEmptyRoomOnce_EmptyPastThreshold(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	f.rooms.Set("l1", ports.Occupancy{Participants: 0, Since: start.Add(5 * time.Minute)})
	f.now = start.Add(16 * time.Minute)

	rep := f.scanner.EmptyRoomOnce(context.Background())
	require.Equal(t, 1, rep.Transitioned)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, cur.Status)

	latest, err := f.store.Latest(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, "auto-completed: empty room", latest.Reason)
}

func TestEmptyRoomOnce_RejoinResetsClock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	// a participant came back before the threshold ran out
	f.rooms.Set("l1", ports.Occupancy{Participants: 1, Since: start.Add(9 * time.Minute)})
	f.now = start.Add(16 * time.Minute)

	rep := f.scanner.EmptyRoomOnce(context.Background())
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 0, rep.Transitioned)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, cur.Status)
}

func TestEmptyRoomOnce_RecentlyEmptied(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	f.rooms.Set("l1", ports.Occupancy{Participants: 0, Since: start.Add(10 * time.Minute)})
	f.now = start.Add(16 * time.Minute)

	rep := f.scanner.EmptyRoomOnce(context.Background())
	require.Equal(t, 0, rep.Transitioned)
}

func TestEmptyRoomOnce_IsolatesProviderFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	f.seed(t, "l2", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	// l1 has no occupancy data at all; l2 qualifies for completion
	f.rooms.Set("l2", ports.Occupancy{Participants: 0, Since: start})
	f.now = start.Add(16 * time.Minute)

	rep := f.scanner.EmptyRoomOnce(context.Background())
	require.Equal(t, 2, rep.Processed)
	require.Equal(t, 1, rep.Transitioned)
	require.Len(t, rep.Errors, 1)
	require.Equal(t, "l1", rep.Errors[0].LessonID)
	require.ErrorIs(t, rep.Errors[0].Err, rooms.ErrUnknownRoom)

	cur, err := f.store.Get(context.Background(), "l2")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, cur.Status)
}

func TestLongRunningOnce_PastMaximum(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	f.now = start.Add(81 * time.Minute)

	rep := f.scanner.LongRunningOnce(context.Background())
	require.Equal(t, 1, rep.Transitioned)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, cur.Status)
	require.Equal(t, f.now, cur.MeetingEndedAt)

	latest, err := f.store.Latest(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, "auto-completed: duration exceeded", latest.Reason)
}

func TestLongRunningOnce_UnderMaximum(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusInProgress, func(rec *model.Lesson) {
		rec.MeetingStartedAt = start
	})
	f.now = start.Add(79 * time.Minute)

	rep := f.scanner.LongRunningOnce(context.Background())
	require.Equal(t, 0, rep.Processed)
	require.Equal(t, 0, rep.Transitioned)
}

func TestRoomOpenOnce_NotifiesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusScheduled, func(rec *model.Lesson) {
		rec.StartsAt = start.Add(5 * time.Minute)
	})
	// outside the lead window, must not fire
	f.seed(t, "l2", model.StatusScheduled, func(rec *model.Lesson) {
		rec.StartsAt = start.Add(30 * time.Minute)
	})

	rep := f.scanner.RoomOpenOnce(context.Background())
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 1, rep.Transitioned)

	sent := f.sink.Sent()
	require.Len(t, sent, 2)
	for _, n := range sent {
		require.Equal(t, "l1", n.LessonID)
		require.Equal(t, ports.NotifyRoomOpen, n.Kind)
	}

	// second pass over the same window is a no-op
	rep = f.scanner.RoomOpenOnce(context.Background())
	require.Equal(t, 0, rep.Processed)
	require.Len(t, f.sink.Sent(), 2)
}

func TestScan_StaleTriggerDroppedSilently(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "l1", model.StatusScheduled, nil)

	// another caller resolved the lesson between candidate query and commit
	observed := &model.Lesson{ID: "l1", Status: model.StatusScheduled}
	_, err := f.machine.Transition(context.Background(), "l1", model.StatusCancelled, model.Actor{Role: model.RoleAdmin, UserID: "a1"}, "slot freed", f.now)
	require.NoError(t, err)

	transitioned, err := f.scanner.commit(context.Background(), observed, model.StatusNotStarted, "no participant activity within grace period", f.now)
	require.NoError(t, err)
	require.False(t, transitioned)

	cur, err := f.store.Get(context.Background(), "l1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, cur.Status)
}

func TestRunAll_CoversEveryKind(t *testing.T) {
	f := newFixture(t)
	reports := f.scanner.RunAll(context.Background())
	require.Len(t, reports, 4)
	kinds := map[string]bool{}
	for _, rep := range reports {
		kinds[rep.Kind] = true
	}
	require.True(t, kinds[KindRoomOpen])
	require.True(t, kinds[KindNotStarted])
	require.True(t, kinds[KindEmptyRoom])
	require.True(t, kinds[KindLongRunning])
}

func TestScan_ParallelPassIsSafe(t *testing.T) {
	f := newFixture(t)
	f.scanner.Conf.Parallelism = 4
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		f.seed(t, id, model.StatusScheduled, nil)
	}
	f.now = start.Add(20 * time.Minute)

	rep := f.scanner.NotStartedOnce(context.Background())
	require.Equal(t, 6, rep.Processed)
	require.Equal(t, 6, rep.Transitioned)
	require.Empty(t, rep.Errors)
}
