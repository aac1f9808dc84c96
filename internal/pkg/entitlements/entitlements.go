package entitlements

import (
	"strings"
)

type Role string

const (
	RoleFree      Role = "free"
	RoleStarter   Role = "starter"
	RolePro       Role = "pro"
	RoleVault     Role = "vault"
	RoleAgency    Role = "agency"
	RoleSuspended Role = "suspended"
)

// Unlimited marks a limit without an upper bound.
const Unlimited = -1

// Limits are the usage allowances attached to a role.
type Limits struct {
	MonthlyGenerations int `json:"monthly_generations"`
	Projects           int `json:"projects"`
	Seats              int `json:"seats"`
}

var roleLimits = map[Role]Limits{
	RoleFree:      {MonthlyGenerations: 10, Projects: 1, Seats: 1},
	RoleStarter:   {MonthlyGenerations: 200, Projects: 3, Seats: 1},
	RolePro:       {MonthlyGenerations: 1000, Projects: 10, Seats: 1},
	RoleVault:     {MonthlyGenerations: 5000, Projects: 50, Seats: 1},
	RoleAgency:    {MonthlyGenerations: Unlimited, Projects: Unlimited, Seats: 10},
	RoleSuspended: {},
}

// ParseRole normalizes a stored role string.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := roleLimits[r]; ok {
		return r, true
	}
	return RoleFree, false
}

// Rank orders roles for "highest subscription wins". Suspended ranks below free.
func (r Role) Rank() int {
	switch r {
	case RoleAgency:
		return 4
	case RoleVault:
		return 3
	case RolePro:
		return 2
	case RoleStarter:
		return 1
	case RoleSuspended:
		return -1
	default:
		return 0
	}
}

// IsPaid reports whether the role is granted by a subscription.
func (r Role) IsPaid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r satisfies a minimum role.
func (r Role) AtLeast(min Role) bool {
	return r.Rank() >= min.Rank()
}

// LimitsFor returns the allowances of a role. Unknown roles get free limits.
func LimitsFor(r Role) Limits {
	if l, ok := roleLimits[r]; ok {
		return l
	}
	return roleLimits[RoleFree]
}

// Allows reports whether used stays below the limit.
func Allows(limit, used int) bool {
	return limit == Unlimited || used < limit
}
