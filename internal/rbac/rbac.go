package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleParalegal Role = "paralegal"
	RoleAttorney  Role = "attorney"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
	ActionManage  Action = "manage"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAttorney:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleParalegal:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleParalegal, RoleAttorney, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
