package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Catalog supplies roles and published templates.
// Role and template authoring lives outside the engine; the engine only reads.
type Catalog interface {
	// Role returns domain.ErrRoleNotFound when the ID is unknown.
	Role(ctx context.Context, id string) (*domain.Role, error)

	// Template returns domain.ErrTemplateNotFound when the ID is unknown.
	Template(ctx context.Context, id string) (*domain.Template, error)

	// Roles lists every role, sorted by ID.
	Roles(ctx context.Context) ([]*domain.Role, error)

	// Templates lists every template, sorted by ID.
	Templates(ctx context.Context) ([]*domain.Template, error)
}
