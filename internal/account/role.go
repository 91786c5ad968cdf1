package account

import (
	"fmt"
	"strings"
)

// Role is the closed set of capability levels an account can hold.
type Role int

const (
	RolePending Role = iota
	RoleDefaultUser
	RoleStudent
	RoleDoctor
	RoleStaff
	RoleAdmin
)

// Roles lists every role, in privilege order.
var Roles = []Role{RolePending, RoleDefaultUser, RoleStudent, RoleDoctor, RoleStaff, RoleAdmin}

func (r Role) String() string {
	switch r {
	case RolePending:
		return "pending"
	case RoleDefaultUser:
		return "defaultuser"
	case RoleStudent:
		return "student"
	case RoleDoctor:
		return "doctor"
	case RoleStaff:
		return "staff"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole maps a stored or configured role name to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return RolePending, nil
	case "defaultuser":
		return RoleDefaultUser, nil
	case "student":
		return RoleStudent, nil
	case "doctor":
		return RoleDoctor, nil
	case "staff":
		return RoleStaff, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("account: unknown role %q", s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// RoleChanged reports whether a role transition happened. An unknown
// previous role counts as a change.
func RoleChanged(prev *Role, next Role) bool {
	return prev == nil || *prev != next
}
