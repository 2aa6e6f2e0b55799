package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_Valid(t *testing.T) {
	for _, st := range AllStatuses {
		require.True(t, st.Valid(), "%s", st)
	}
	require.False(t, Status("").Valid())
	require.False(t, Status("paused").Valid())
}

func TestStatus_Terminal(t *testing.T) {
	active := map[Status]bool{
		StatusScheduled:  true,
		StatusInProgress: true,
		StatusNotStarted: true,
	}
	for _, st := range AllStatuses {
		require.Equal(t, !active[st], st.IsTerminal(), "%s", st)
	}
}

func TestRole_Override(t *testing.T) {
	require.True(t, RoleAdmin.Override())
	require.True(t, RoleSystem.Override())
	require.False(t, RoleTutor.Override())
	require.False(t, RoleStudent.Override())
}

func TestHistoryEntry_Initial(t *testing.T) {
	require.True(t, HistoryEntry{Status: StatusScheduled}.Initial())
	require.False(t, HistoryEntry{Status: StatusScheduled, PreviousStatus: StatusScheduled}.Initial())
	require.False(t, HistoryEntry{Status: StatusCancelled}.Initial())
}
