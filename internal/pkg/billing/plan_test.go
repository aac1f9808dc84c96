package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
)

func TestNormalizeInterval(t *testing.T) {
	tests := map[string]string{
		"month":  "month",
		" YEAR ": "year",
		"week":   "unknown",
		"":       "unknown",
	}
	for in, want := range tests {
		assert.Equalf(t, want, normalizeInterval(in), "interval %q", in)
	}
}

func TestLoadPlanCatalog(t *testing.T) {
	repo := newMemRepository()
	repo.mappings = []models.BillingPlanMapping{
		{Provider: models.BillingProviderStripe, ProviderPlanRef: "price_pro", InternalRole: "pro", IsActive: true},
		{Provider: models.BillingProviderPatreon, ProviderPlanRef: "tier_vault", InternalRole: "vault", IsActive: true},
		{Provider: models.BillingProviderStripe, ProviderPlanRef: "price_old", InternalRole: "agency", IsActive: false},
		{Provider: models.BillingProviderStripe, ProviderPlanRef: "price_free", InternalRole: "free", IsActive: true},
		{Provider: models.BillingProviderStripe, ProviderPlanRef: "price_bad", InternalRole: "platinum", IsActive: true},
	}
	static := map[string]entitlements.Role{"price_starter": entitlements.RoleStarter}

	catalog, err := LoadPlanCatalog(context.Background(), repo, static)
	require.NoError(t, err)

	assert.Equal(t, entitlements.RoleStarter, catalog["price_starter"])
	assert.Equal(t, entitlements.RolePro, catalog["price_pro"])
	assert.Equal(t, entitlements.RoleVault, catalog["tier_vault"])
	assert.NotContains(t, catalog, "price_old")
	assert.NotContains(t, catalog, "price_free")
	assert.NotContains(t, catalog, "price_bad")

	// The static map is not mutated.
	assert.Len(t, static, 1)
}
