package entitlements

import (
	"strings"
	"time"

	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
)

const (
	DefaultPastDueGrace  = 7 * 24 * time.Hour
	DefaultCanceledGrace = time.Duration(0)
)

// Config is the plan catalog plus grace windows used by the resolver.
type Config struct {
	// Plans maps provider plan ids (price ids, tier ids) to roles.
	Plans         map[string]Role
	PastDueGrace  time.Duration
	CanceledGrace time.Duration
}

// DefaultConfig knows the role names themselves as plan ids.
func DefaultConfig() Config {
	return Config{
		Plans:         DefaultPlans(),
		PastDueGrace:  DefaultPastDueGrace,
		CanceledGrace: DefaultCanceledGrace,
	}
}

// DefaultPlans maps every paid role name to itself.
func DefaultPlans() map[string]Role {
	return map[string]Role{
		string(RoleStarter): RoleStarter,
		string(RolePro):     RolePro,
		string(RoleVault):   RoleVault,
		string(RoleAgency):  RoleAgency,
	}
}

// RoleForPlan looks a plan id up in the catalog. Only paid roles resolve.
func (c Config) RoleForPlan(planID string) (Role, bool) {
	role, ok := c.Plans[strings.TrimSpace(planID)]
	if !ok || !role.IsPaid() {
		return RoleFree, false
	}
	return role, true
}

// ConfigFromEnv reads grace windows and the static plan catalog.
// PLAN_ROLES is a comma separated list of planId:role pairs, for example
// "price_1Pro:pro,price_1Agency:agency".
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.PastDueGrace = env.GetEnvDuration("PAST_DUE_GRACE", cfg.PastDueGrace)
	cfg.CanceledGrace = env.GetEnvDuration("CANCELED_GRACE", cfg.CanceledGrace)
	for planID, role := range ParsePlanRoles(env.GetEnv("PLAN_ROLES", "")) {
		cfg.Plans[planID] = role
	}
	return cfg
}

// ParsePlanRoles parses "planId:role" pairs, skipping malformed entries and
// entries that do not name a paid role.
func ParsePlanRoles(raw string) map[string]Role {
	out := map[string]Role{}
	for _, pair := range strings.Split(raw, ",") {
		planID, roleName, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		planID = strings.TrimSpace(planID)
		role, known := ParseRole(roleName)
		if planID == "" || !known || !role.IsPaid() {
			continue
		}
		out[planID] = role
	}
	return out
}

// WithPlans returns a copy of c using the given catalog.
func (c Config) WithPlans(plans map[string]Role) Config {
	c.Plans = plans
	return c
}
