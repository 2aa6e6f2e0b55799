package lifecycle

import "github.com/classlane/lessond/internal/domain/lesson/model"

// Transition is a single allowed edge in the lesson status state machine.
// Roles lists the roles gated onto the edge; admin and system override
// every gate.
type Transition struct {
	From  model.Status
	To    model.Status
	Roles []model.Role
}

// Decision records whether a transition is allowed and why it is forbidden.
type Decision struct {
	Allowed bool
	Reason  string
}

var transitionsTable = []Transition{
	// Live start path
	{From: model.StatusScheduled, To: model.StatusInProgress, Roles: []model.Role{model.RoleTutor}},
	{From: model.StatusInProgress, To: model.StatusCompleted, Roles: []model.Role{model.RoleTutor}},

	// Grace-period fallback when nobody ever joined
	{From: model.StatusScheduled, To: model.StatusNotStarted, Roles: nil},

	// Cancellation paths out of scheduled
	{From: model.StatusScheduled, To: model.StatusCancelled, Roles: nil},
	{From: model.StatusScheduled, To: model.StatusStudentCancel, Roles: []model.Role{model.RoleStudent}},
	{From: model.StatusScheduled, To: model.StatusTutorCancel, Roles: []model.Role{model.RoleTutor}},
	{From: model.StatusScheduled, To: model.StatusRescheduled, Roles: []model.Role{model.RoleTutor, model.RoleStudent}},

	// Resolutions out of a running lesson
	{From: model.StatusInProgress, To: model.StatusNoShowStudent, Roles: []model.Role{model.RoleTutor}},
	{From: model.StatusInProgress, To: model.StatusNoShowTutor, Roles: nil},
	{From: model.StatusInProgress, To: model.StatusTechnicalIssues, Roles: []model.Role{model.RoleTutor}},

	// Resolutions out of not_started, once attribution is known
	{From: model.StatusNotStarted, To: model.StatusNoShowStudent, Roles: nil},
	{From: model.StatusNotStarted, To: model.StatusNoShowTutor, Roles: nil},
	{From: model.StatusNotStarted, To: model.StatusCancelled, Roles: nil},
}

// TransitionFor returns the allowed edge for a (from, to) pair.
func TransitionFor(from, to model.Status) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.To == to {
			return tr, true
		}
	}
	return Transition{}, false
}

// roleAllowed reports whether the role may drive the edge. An empty role
// list means staff-only (admin/system).
func roleAllowed(tr Transition, role model.Role) bool {
	if role.Override() {
		return true
	}
	for _, r := range tr.Roles {
		if r == role {
			return true
		}
	}
	return false
}
