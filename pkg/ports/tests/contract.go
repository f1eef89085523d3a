package tests

import (
	"context"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CatalogContractTest is a reusable test suite that verifies if an adapter complies with ports.Catalog.
// roleIDs and templateIDs list what the adapter was seeded with.
func CatalogContractTest(t *testing.T, catalog ports.Catalog, roleIDs, templateIDs []string) {
	t.Helper()
	ctx := context.Background()

	t.Run("Role_Success", func(t *testing.T) {
		for _, id := range roleIDs {
			role, err := catalog.Role(ctx, id)
			require.NoError(t, err, "role %s", id)
			assert.Equal(t, id, role.ID)
			assert.NotEmpty(t, role.Name, "role %s should carry a name", id)
		}
	})

	t.Run("Role_NotFound", func(t *testing.T) {
		_, err := catalog.Role(ctx, "non-existent-role")
		assert.ErrorIs(t, err, domain.ErrRoleNotFound)
	})

	t.Run("Template_Success", func(t *testing.T) {
		for _, id := range templateIDs {
			tpl, err := catalog.Template(ctx, id)
			require.NoError(t, err, "template %s", id)
			assert.Equal(t, id, tpl.ID)
			assert.NotEmpty(t, tpl.Steps, "template %s should have steps", id)
		}
	})

	t.Run("Template_NotFound", func(t *testing.T) {
		_, err := catalog.Template(ctx, "non-existent-template")
		assert.ErrorIs(t, err, domain.ErrTemplateNotFound)
	})

	t.Run("Listing", func(t *testing.T) {
		roles, err := catalog.Roles(ctx)
		require.NoError(t, err)
		var gotRoles []string
		for _, r := range roles {
			gotRoles = append(gotRoles, r.ID)
		}
		assert.ElementsMatch(t, roleIDs, gotRoles)
		assert.IsNonDecreasing(t, gotRoles)

		templates, err := catalog.Templates(ctx)
		require.NoError(t, err)
		var gotTemplates []string
		for _, tpl := range templates {
			gotTemplates = append(gotTemplates, tpl.ID)
		}
		assert.ElementsMatch(t, templateIDs, gotTemplates)
		assert.IsNonDecreasing(t, gotTemplates)
	})
}
