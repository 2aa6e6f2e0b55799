package lifecycle

import "github.com/classlane/lessond/internal/domain/lesson/model"

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenNoSuchEdge        = "no_such_edge"
	ForbiddenRoleGate          = "role_forbidden"
	ForbiddenAlreadyInStatus   = "already_in_status"
)

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

// Decide is the single authority on whether (from → to) may be driven by
// the given role. It never consults anything but the transition table and
// the terminal set, so it is safe to share read-only across goroutines.
func Decide(from, to model.Status, role model.Role) Decision {
	if from.IsTerminal() {
		return forbid(ForbiddenTerminalAbsorbing)
	}
	if from == to {
		return forbid(ForbiddenAlreadyInStatus)
	}
	tr, ok := TransitionFor(from, to)
	if !ok {
		return forbid(ForbiddenNoSuchEdge)
	}
	if !roleAllowed(tr, role) {
		return forbid(ForbiddenRoleGate)
	}
	return allowed()
}
