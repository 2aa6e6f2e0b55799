package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/classlane/lessond/internal/domain/lesson/lifecycle"
	"github.com/classlane/lessond/internal/domain/lesson/model"
	"github.com/classlane/lessond/internal/domain/lesson/store"
	"github.com/classlane/lessond/internal/notify"
)

var (
	tutor   = model.Actor{Role: model.RoleTutor, UserID: "t1"}
	student = model.Actor{Role: model.RoleStudent, UserID: "s1"}
	admin   = model.Actor{Role: model.RoleAdmin, UserID: "a1"}
)

func newTestMachine(t *testing.T) (*Machine, *store.MemoryStore, *notify.Recorder) {
	t.Helper()
	st := store.NewMemoryStore()
	rec := notify.NewRecorder()
	m := New(st, rec)
	base := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	m.Clock = func() time.Time { return base }
	return m, st, rec
}

func book(t *testing.T, m *Machine) *model.Lesson {
	t.Helper()
	rec, err := m.Book(context.Background(), BookingRequest{
		TutorID:   "t1",
		StudentID: "s1",
		StartsAt:  time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC),
		EndsAt:    time.Date(2026, 3, 9, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return rec
}

func TestBook_CreatesScheduledWithInitialEntry(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()

	rec := book(t, m)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, model.StatusScheduled, rec.Status)

	ok, err := st.HasInitialEntry(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)

	entries, err := st.All(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Initial())
	require.Equal(t, model.RoleSystem, entries[0].ChangedByRole)
}

func TestTransition_HappyPathKeepsLedgerConsistent(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	at := rec.StartsAt.Add(2 * time.Minute)
	got, err := m.Transition(ctx, rec.ID, model.StatusInProgress, tutor, "tutor joined", at)
	require.NoError(t, err)
	require.Equal(t, model.StatusInProgress, got.Status)
	require.Equal(t, at, got.MeetingStartedAt)

	at = rec.StartsAt.Add(55 * time.Minute)
	got, err = m.Transition(ctx, rec.ID, model.StatusCompleted, tutor, "lesson done", at)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.Status)
	require.Equal(t, at, got.MeetingEndedAt)

	// stored status always matches the newest ledger entry
	latest, err := st.Latest(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, got.Status, latest.Status)

	// and the chain of entries is gap-free
	entries, err := st.All(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		require.Equal(t, entries[i-1].Status, entries[i].PreviousStatus)
		require.True(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
	}
}

func TestTransition_Taxonomy(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)
	at := rec.StartsAt

	_, err := m.Transition(ctx, "missing", model.StatusCancelled, admin, "", at)
	require.ErrorIs(t, err, lifecycle.ErrNotFound)

	_, err = m.Transition(ctx, rec.ID, model.StatusCompleted, tutor, "", at)
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	_, err = m.Transition(ctx, rec.ID, model.StatusInProgress, student, "", at)
	require.ErrorIs(t, err, lifecycle.ErrUnauthorized)

	_, err = m.Transition(ctx, rec.ID, model.Status("bogus"), admin, "", at)
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	_, err = m.Transition(ctx, rec.ID, model.StatusCancelled, admin, "slot freed", at)
	require.NoError(t, err)

	_, err = m.Transition(ctx, rec.ID, model.StatusInProgress, tutor, "", at)
	require.ErrorIs(t, err, lifecycle.ErrAlreadyFinalized)
}

func TestTransition_RejectionLeavesNothingBehind(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.Transition(ctx, rec.ID, model.StatusCompleted, tutor, "", rec.StartsAt)
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	cur, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, cur.Status)

	entries, err := st.All(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestTransitionFrom_StaleObservation(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.Transition(ctx, rec.ID, model.StatusInProgress, tutor, "", rec.StartsAt)
	require.NoError(t, err)

	_, err = m.TransitionFrom(ctx, rec.ID, model.StatusScheduled, model.StatusCancelled, admin, "", rec.StartsAt)
	require.ErrorIs(t, err, lifecycle.ErrStaleState)
}

func TestTransitionFrom_ConcurrentRaceHasOneWinner(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.Transition(ctx, rec.ID, model.StatusInProgress, tutor, "", rec.StartsAt)
	require.NoError(t, err)

	targets := []model.Status{model.StatusCompleted, model.StatusNoShowStudent}
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, to := range targets {
		wg.Add(1)
		go func(i int, to model.Status) {
			defer wg.Done()
			_, errs[i] = m.TransitionFrom(ctx, rec.ID, model.StatusInProgress, to, tutor, "", rec.StartsAt.Add(30*time.Minute))
		}(i, to)
	}
	wg.Wait()

	var wins, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case lifecycle.IsStaleOrResolved(err):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, stale)

	// the loser must not have left a ledger entry
	entries, err := st.All(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	cur, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, cur.Status.IsTerminal())
	require.Equal(t, entries[len(entries)-1].Status, cur.Status)
}

func TestTransitionWithRetry_DoesNotRetryValidationErrors(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.TransitionWithRetry(ctx, rec.ID, model.StatusCompleted, tutor, "")
	require.ErrorIs(t, err, lifecycle.ErrIllegalTransition)

	entries, err := st.All(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestTransitionWithRetry_AppendsExactlyOnce(t *testing.T) {
	m, st, _ := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.TransitionWithRetry(ctx, rec.ID, model.StatusInProgress, tutor, "tutor joined")
	require.NoError(t, err)

	entries, err := st.All(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, model.StatusInProgress, entries[1].Status)
}

func TestTransition_NotifiesBothParties(t *testing.T) {
	m, _, sink := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.Transition(ctx, rec.ID, model.StatusStudentCancel, student, "sick", rec.StartsAt)
	require.NoError(t, err)

	sent := sink.Sent()
	require.Len(t, sent, 2)
	recipients := []string{sent[0].Recipient, sent[1].Recipient}
	require.ElementsMatch(t, []string{"t1", "s1"}, recipients)
	for _, n := range sent {
		require.Equal(t, rec.ID, n.LessonID)
	}
}

func TestTransition_NoNotificationForNeutralEdges(t *testing.T) {
	m, _, sink := newTestMachine(t)
	ctx := context.Background()
	rec := book(t, m)

	_, err := m.Transition(ctx, rec.ID, model.StatusInProgress, tutor, "", rec.StartsAt)
	require.NoError(t, err)
	require.Empty(t, sink.Sent())
}
