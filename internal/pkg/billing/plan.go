package billing

import (
	"context"
	"strings"

	"github.com/ManuelReschke/CopyFox/internal/pkg/entitlements"
)

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "month", "year":
		return i
	default:
		return "unknown"
	}
}

// LoadPlanCatalog merges the active plan mappings stored in the database over
// the static catalog. Mappings pointing at unknown roles are skipped.
func LoadPlanCatalog(ctx context.Context, repo Repository, static map[string]entitlements.Role) (map[string]entitlements.Role, error) {
	catalog := make(map[string]entitlements.Role, len(static))
	for planID, role := range static {
		catalog[planID] = role
	}

	mappings, err := repo.ListActivePlanMappings(ctx)
	if err != nil {
		return catalog, err
	}
	for _, m := range mappings {
		role, ok := entitlements.ParseRole(m.InternalRole)
		if !ok || !role.IsPaid() {
			continue
		}
		ref := strings.TrimSpace(m.ProviderPlanRef)
		if ref == "" {
			continue
		}
		catalog[ref] = role
	}
	return catalog, nil
}
