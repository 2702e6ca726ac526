package domain

// Role is the role carried by a caller's token.
type Role string

const (
	// RoleAdmin may call every procedure.
	RoleAdmin Role = "admin"
	// RoleScheduler is held by the allocators that ask for placements.
	RoleScheduler Role = "scheduler"
	// RoleViewer may only query strategy decisions, never run a placement.
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleScheduler, RoleViewer:
		return true
	}
	return false
}
