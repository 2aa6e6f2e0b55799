package model

// Status is the lifecycle status of a lesson. It is decoupled from any
// transport DTOs to maintain clean layering.
type Status string

const (
	StatusScheduled       Status = "scheduled"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusStudentCancel   Status = "student_cancelled"
	StatusTutorCancel     Status = "tutor_cancelled"
	StatusNoShowStudent   Status = "no_show_student"
	StatusNoShowTutor     Status = "no_show_tutor"
	StatusTechnicalIssues Status = "technical_issues"
	StatusNotStarted      Status = "not_started"
	StatusRescheduled     Status = "rescheduled"
)

// AllStatuses enumerates every valid status, in lifecycle order.
var AllStatuses = []Status{
	StatusScheduled,
	StatusInProgress,
	StatusNotStarted,
	StatusCompleted,
	StatusCancelled,
	StatusStudentCancel,
	StatusTutorCancel,
	StatusNoShowStudent,
	StatusNoShowTutor,
	StatusTechnicalIssues,
	StatusRescheduled,
}

// IsTerminal reports whether the status absorbs all further events.
// A rescheduled lesson is terminal for the original instance; the new slot
// is a new lesson.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusStudentCancel, StatusTutorCancel,
		StatusNoShowStudent, StatusNoShowTutor, StatusTechnicalIssues, StatusRescheduled:
		return true
	}
	return false
}

// Valid reports whether s is one of the enumerated statuses.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }
