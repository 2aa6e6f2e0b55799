package model

// Role identifies who requested a status transition.
type Role string

const (
	RoleSystem  Role = "system"
	RoleTutor   Role = "tutor"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Actor is the party behind a transition request. UserID is empty when
// Role is RoleSystem.
type Actor struct {
	Role   Role
	UserID string
}

// System is the actor used by scan jobs and other automation.
var System = Actor{Role: RoleSystem}

// Override reports whether the role may drive any legal edge regardless
// of the edge's role gate.
func (r Role) Override() bool {
	return r == RoleAdmin || r == RoleSystem
}

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleTutor, RoleStudent, RoleAdmin:
		return true
	}
	return false
}
