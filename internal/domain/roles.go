package domain

import "fmt"

// Role is the closed set of membership roles within a tenant.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleExecutor Role = "executor"
	RoleManager  Role = "manager"
	RoleOrgAdmin Role = "org_admin"
	RoleOwner    Role = "owner"
)

var roleRank = map[Role]int{
	RoleViewer:   0,
	RoleExecutor: 1,
	RoleManager:  2,
	RoleOrgAdmin: 3,
	RoleOwner:    4,
}

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AtLeast reports whether r carries at least the capabilities of min.
// This is the single capability check used everywhere; call sites never
// compare role strings directly.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}
