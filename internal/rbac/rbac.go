package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionAdmin   Action = "admin"
)

var rank = map[Role]int{
	RoleViewer:    1,
	RoleCommenter: 2,
	RoleEditor:    3,
	RoleAdmin:     4,
}

// Can reports whether role may perform action. Only editors and admins may
// change the structure of a roadmap.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// AtLeast orders roles viewer < commenter < editor < admin. Unknown roles
// rank below everything.
func AtLeast(role, min Role) bool {
	return rank[role] >= rank[min] && rank[role] > 0
}

// Higher returns the stronger of two roles.
func Higher(a, b Role) Role {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Grantable reports whether role may be granted through an invitation.
func Grantable(role Role) bool {
	return role == RoleViewer || role == RoleCommenter || role == RoleEditor
}

// LinkGrantable reports whether role may be carried by a public link.
// Anonymous reach never implies write access.
func LinkGrantable(role Role) bool {
	return role == RoleViewer || role == RoleCommenter
}
