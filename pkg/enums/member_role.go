package enums

import "fmt"

// MemberRole represents a tenant-level permissions role.
type MemberRole string

const (
	MemberRoleOwner   MemberRole = "owner"
	MemberRoleManager MemberRole = "manager"
	MemberRoleCashier MemberRole = "cashier"
	MemberRoleViewer  MemberRole = "viewer"
	// MemberRolePlatformAdmin operates the back-office itself and verifies payments.
	MemberRolePlatformAdmin MemberRole = "platform_admin"
)

var validMemberRoles = []MemberRole{
	MemberRoleOwner,
	MemberRoleManager,
	MemberRoleCashier,
	MemberRoleViewer,
	MemberRolePlatformAdmin,
}

// String implements fmt.Stringer.
func (m MemberRole) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MemberRole.
func (m MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == m {
			return true
		}
	}
	return false
}

// CanManageBilling reports whether the role may request or cancel plans.
func (m MemberRole) CanManageBilling() bool {
	return m == MemberRoleOwner || m == MemberRoleManager
}

// ParseMemberRole converts raw input into a MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
