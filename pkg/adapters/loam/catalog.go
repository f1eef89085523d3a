// Package loam reads roles and templates from a Loam repository of
// Markdown (or JSON/YAML) documents.
package loam

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/loam"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flow"
)

// Catalog implements ports.Catalog over a Loam repository.
// The repository is indexed on first use and re-indexed after Invalidate
// (which Watch calls on every change).
type Catalog struct {
	Repo   *loam.TypedRepository[DocumentMetadata]
	logger *slog.Logger

	mu        sync.RWMutex
	loaded    bool
	roles     map[string]domain.Role
	templates map[string]*domain.Template
}

type Option func(*Catalog)

func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// New creates a catalog over an existing typed repository.
func New(repo *loam.TypedRepository[DocumentMetadata], opts ...Option) *Catalog {
	c := &Catalog{Repo: repo, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open initializes a read-only Loam repository at dir and wraps it.
func Open(dir string, opts ...Option) (*Catalog, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve library path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open loam library: %w", err)
	}
	return New(loam.NewTypedRepository[DocumentMetadata](repo), opts...), nil
}

// Invalidate drops the index; the next lookup re-reads the repository.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

func (c *Catalog) index(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	docs, err := c.Repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loam list failed: %w", err)
	}

	roles := make(map[string]domain.Role)
	templates := make(map[string]*domain.Template)
	seen := make(map[string]string)

	for _, doc := range docs {
		meta := doc.Data
		id := meta.ID
		if id == "" {
			id = doc.ID
		}
		id = trimExtension(id)

		key := meta.Kind + "/" + id
		if existing, ok := seen[key]; ok {
			return fmt.Errorf("collision detected: %s '%s' is defined in both '%s' and '%s'", meta.Kind, id, existing, doc.ID)
		}
		seen[key] = doc.ID
		body := strings.TrimSpace(doc.Content)

		switch meta.Kind {
		case KindRole:
			prompt := meta.Prompt
			if prompt == "" {
				prompt = body
			}
			name := meta.Name
			if name == "" {
				name = id
			}
			roles[id] = domain.Role{ID: id, Name: name, Description: meta.Description, Prompt: prompt}
		case KindTemplate:
			steps, err := flow.DecodeSteps(meta.Steps)
			if err != nil {
				return fmt.Errorf("template %s: %w", doc.ID, err)
			}
			desc := meta.Description
			if desc == "" {
				desc = body
			}
			t := &domain.Template{
				ID:          id,
				Name:        meta.Name,
				Description: desc,
				Topic:       meta.Topic,
				MaxRounds:   meta.MaxRounds,
				Steps:       steps,
			}
			if err := flow.Validate(t); err != nil {
				return err
			}
			templates[id] = t
		default:
			c.logger.Debug("Skipping library document without a known kind",
				slog.String("document", doc.ID),
				slog.String("kind", meta.Kind),
			)
		}
	}

	c.mu.Lock()
	c.roles, c.templates, c.loaded = roles, templates, true
	c.mu.Unlock()
	return nil
}

// Role implements ports.Catalog.
func (c *Catalog) Role(ctx context.Context, id string) (*domain.Role, error) {
	if err := c.index(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoleNotFound, id)
	}
	return &r, nil
}

// Template implements ports.Catalog.
func (c *Catalog) Template(ctx context.Context, id string) (*domain.Template, error) {
	if err := c.index(ctx); err != nil {
		return nil, err
	}
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

// Roles implements ports.Catalog.
func (c *Catalog) Roles(ctx context.Context) ([]*domain.Role, error) {
	if err := c.index(ctx); err != nil {
		return nil, err
	}
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

// Templates implements ports.Catalog.
func (c *Catalog) Templates(ctx context.Context) ([]*domain.Template, error) {
	if err := c.index(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Watch invalidates the index whenever a library document changes and
// reports the changed document IDs. Running sessions are unaffected since
// they hold snapshots.
func (c *Catalog) Watch(ctx context.Context) (<-chan string, error) {
	events, err := c.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				c.Invalidate()
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}
