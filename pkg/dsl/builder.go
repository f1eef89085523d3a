package dsl

import (
	"fmt"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flow"
)

// Builder assembles a template step by step.
type Builder struct {
	tpl   domain.Template
	steps []*StepBuilder
}

// New starts a template with the given ID.
func New(id string) *Builder {
	return &Builder{tpl: domain.Template{ID: id, Name: id}}
}

// Name sets the display name. Defaults to the ID.
func (b *Builder) Name(name string) *Builder {
	b.tpl.Name = name
	return b
}

// Describe sets the template description.
func (b *Builder) Describe(description string) *Builder {
	b.tpl.Description = description
	return b
}

// Topic sets the default session topic.
func (b *Builder) Topic(topic string) *Builder {
	b.tpl.Topic = topic
	return b
}

// MaxRounds caps how many steps a session may execute in total.
func (b *Builder) MaxRounds(n int) *Builder {
	b.tpl.MaxRounds = n
	return b
}

// Step appends a turn spoken by speaker and returns its builder.
// The step's order is its position, starting at 1.
func (b *Builder) Step(speaker string) *StepBuilder {
	sb := &StepBuilder{
		builder: b,
		step: domain.FlowStep{
			Order:      len(b.steps) + 1,
			SpeakerRef: speaker,
			Scope:      domain.ContextScope{Kind: domain.ScopeAll},
		},
	}
	b.steps = append(b.steps, sb)
	return sb
}

// Build validates and returns the template.
func (b *Builder) Build() (*domain.Template, error) {
	t := b.tpl
	t.Steps = make([]domain.FlowStep, 0, len(b.steps))
	for _, sb := range b.steps {
		t.Steps = append(t.Steps, sb.step)
	}
	if err := flow.Validate(&t); err != nil {
		return nil, fmt.Errorf("invalid template %q: %w", t.ID, err)
	}
	return &t, nil
}

// Catalog builds the template and registers it with the roles in a new
// in-memory catalog.
func (b *Builder) Catalog(roles ...domain.Role) (*memory.Catalog, error) {
	t, err := b.Build()
	if err != nil {
		return nil, err
	}
	c := memory.NewCatalog()
	if err := c.AddRoles(roles...); err != nil {
		return nil, err
	}
	if err := c.AddTemplates(t); err != nil {
		return nil, err
	}
	return c, nil
}
