package lifecycle

import (
	"errors"
	"fmt"

	"github.com/classlane/lessond/internal/domain/lesson/model"
)

var (
	ErrNotFound          = errors.New("lesson not found")
	ErrAlreadyFinalized  = errors.New("lesson already finalized")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrUnauthorized      = errors.New("actor not permitted for this transition")
	ErrStaleState        = errors.New("lesson status changed concurrently")
	ErrStorage           = errors.New("storage failure")
)

// TransitionError carries the rejected edge alongside the taxonomy error,
// so callers can render a human-readable refusal without re-deriving it.
type TransitionError struct {
	Err      error
	LessonID string
	From     model.Status
	To       model.Status
	Detail   string
}

func (e *TransitionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("lesson %s: %s → %s: %v (%s)", e.LessonID, e.From, e.To, e.Err, e.Detail)
	}
	return fmt.Sprintf("lesson %s: %s → %s: %v", e.LessonID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Reject wraps a taxonomy sentinel with edge context.
func Reject(err error, lessonID string, from, to model.Status, detail string) *TransitionError {
	return &TransitionError{Err: err, LessonID: lessonID, From: from, To: to, Detail: detail}
}

// errForDecision maps a forbid reason onto the taxonomy.
func errForDecision(d Decision) error {
	switch d.Reason {
	case ForbiddenTerminalAbsorbing:
		return ErrAlreadyFinalized
	case ForbiddenRoleGate:
		return ErrUnauthorized
	default:
		return ErrIllegalTransition
	}
}

// CheckEdge validates the edge and returns a typed rejection, or nil when
// the transition may proceed.
func CheckEdge(lessonID string, from, to model.Status, role model.Role) error {
	d := Decide(from, to, role)
	if d.Allowed {
		return nil
	}
	return Reject(errForDecision(d), lessonID, from, to, d.Reason)
}

// IsStaleOrResolved reports whether the failure means another caller
// already resolved the lesson. Scan-triggered transitions drop these
// silently instead of treating them as errors.
func IsStaleOrResolved(err error) bool {
	return errors.Is(err, ErrStaleState) || errors.Is(err, ErrAlreadyFinalized)
}

// UserMessage distinguishes "you can't do that" from "someone else already
// changed this" from "temporary failure, retry".
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "lesson does not exist"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrIllegalTransition):
		return "this status change is not permitted"
	case errors.Is(err, ErrStaleState), errors.Is(err, ErrAlreadyFinalized):
		return "the lesson was already changed by someone else"
	case errors.Is(err, ErrStorage):
		return "temporary storage failure, please retry"
	default:
		return "status change failed"
	}
}
