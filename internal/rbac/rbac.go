// Package rbac decides which API roles may perform which roster actions.
package rbac

type Role string
type Action string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

const (
	// ActionRead covers listing, searching, exporting and sharing.
	ActionRead Action = "read"
	// ActionWrite covers participant edits, imports and archiving.
	ActionWrite Action = "write"
	// ActionAdmin covers operations that replace or wipe the whole roster.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleOperator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
