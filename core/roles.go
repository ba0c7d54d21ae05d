package core

// Roles
const (
	RolePendingUser = "pending_user"
	RoleStudent     = "student"
	RoleTeacher     = "teacher"
	RoleAdmin       = "admin"
)

// GrantableRoles are the roles an invitation code or an administrator may assign.
var GrantableRoles = []string{RoleStudent, RoleTeacher, RoleAdmin}

func IsGrantableRole(role string) bool {
	for _, r := range GrantableRoles {
		if r == role {
			return true
		}
	}
	return false
}
