package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Catalog implements ports.Catalog using in-memory maps.
// It is mostly useful for tests and embedding.
type Catalog struct {
	mu        sync.RWMutex
	roles     map[string]domain.Role
	templates map[string]*domain.Template
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		roles:     make(map[string]domain.Role),
		templates: make(map[string]*domain.Template),
	}
}

// AddRoles registers roles, replacing any with the same ID.
func (c *Catalog) AddRoles(roles ...domain.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range roles {
		if r.ID == "" {
			return fmt.Errorf("role missing ID")
		}
		c.roles[r.ID] = r
	}
	return nil
}

// AddTemplates registers templates, replacing any with the same ID.
func (c *Catalog) AddTemplates(templates ...*domain.Template) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range templates {
		if t.ID == "" {
			return fmt.Errorf("template missing ID")
		}
		cp := *t
		cp.Steps = append([]domain.FlowStep(nil), t.Steps...)
		c.templates[t.ID] = &cp
	}
	return nil
}

func (c *Catalog) Role(ctx context.Context, id string) (*domain.Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoleNotFound, id)
	}
	return &r, nil
}

func (c *Catalog) Template(ctx context.Context, id string) (*domain.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, id)
	}
	cp := *t
	cp.Steps = append([]domain.FlowStep(nil), t.Steps...)
	return &cp, nil
}

func (c *Catalog) Roles(ctx context.Context) ([]*domain.Role, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Role, 0, len(c.roles))
	for _, r := range c.roles {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) Templates(ctx context.Context) ([]*domain.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Template, 0, len(c.templates))
	for _, t := range c.templates {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
