package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
)

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleAgency.AtLeast(RolePro))
	assert.True(t, RolePro.AtLeast(RolePro))
	assert.False(t, RoleStarter.AtLeast(RolePro))
	assert.False(t, RoleSuspended.AtLeast(RoleFree))
	assert.False(t, RoleFree.IsPaid())
	assert.True(t, RoleStarter.IsPaid())
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole(" PRO ")
	assert.True(t, ok)
	assert.Equal(t, RolePro, r)

	r, ok = ParseRole("admin")
	assert.False(t, ok)
	assert.Equal(t, RoleFree, r)
}

func TestLimits(t *testing.T) {
	assert.Equal(t, LimitsFor(RoleFree), LimitsFor(Role("gold")))
	assert.True(t, Allows(Unlimited, 1_000_000))
	assert.True(t, Allows(10, 9))
	assert.False(t, Allows(10, 10))
	assert.False(t, Allows(LimitsFor(RoleSuspended).Projects, 0))
}

func TestParsePlanRoles(t *testing.T) {
	got := ParsePlanRoles("price_1Pro:pro, price_1Ag : Agency ,broken,price_free:free,:pro,price_x:admin")
	assert.Equal(t, map[string]Role{"price_1Pro": RolePro, "price_1Ag": RoleAgency}, got)
	assert.Empty(t, ParsePlanRoles(""))
}

func TestConfigFromEnv(t *testing.T) {
	env.Env = map[string]string{
		"PAST_DUE_GRACE": "3d",
		"CANCELED_GRACE": "12h",
		"PLAN_ROLES":     "price_1Vault:vault",
	}
	t.Cleanup(func() { env.Env = nil })

	cfg := ConfigFromEnv()
	assert.Equal(t, 72*time.Hour, cfg.PastDueGrace)
	assert.Equal(t, 12*time.Hour, cfg.CanceledGrace)
	role, ok := cfg.RoleForPlan("price_1Vault")
	assert.True(t, ok)
	assert.Equal(t, RoleVault, role)
	role, ok = cfg.RoleForPlan("pro")
	assert.True(t, ok)
	assert.Equal(t, RolePro, role)

	swapped := cfg.WithPlans(map[string]Role{"only": RoleStarter})
	_, ok = swapped.RoleForPlan("pro")
	assert.False(t, ok)
	_, ok = cfg.RoleForPlan("pro")
	assert.True(t, ok, "WithPlans must not mutate the receiver")
}
