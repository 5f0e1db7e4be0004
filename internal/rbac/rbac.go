package rbac

type Role string
type Action string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAgent    Role = "AGENT"
	RoleAdmin    Role = "ADMIN"
)

const (
	ActionRead         Action = "read"
	ActionShareProfile Action = "share-profile"
	ActionReviewEdits  Action = "review-edits"
	ActionSearchAgents Action = "search-agents"
	ActionAdmin        Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleCustomer:
		return action == ActionRead || action == ActionShareProfile || action == ActionReviewEdits || action == ActionSearchAgents
	case RoleAgent:
		return action == ActionRead || action == ActionSearchAgents
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleCustomer, RoleAgent, RoleAdmin:
		return Role(role)
	default:
		return RoleCustomer
	}
}
