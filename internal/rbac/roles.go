package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner              = "owner"
	RoleMarketer           = "marketer"
	RoleAnalyst            = "analyst"
	RoleSuperAdmin         = "super_admin"
	RoleAutomationOperator = "automation_operator" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleAutomationOperator }
