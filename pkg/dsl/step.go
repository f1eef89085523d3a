package dsl

import (
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
)

// StepBuilder configures one step. Its methods chain back to the template
// through Step and Build.
type StepBuilder struct {
	step    domain.FlowStep
	builder *Builder
}

// Order overrides the step's position-based order.
func (s *StepBuilder) Order(order int) *StepBuilder {
	s.step.Order = order
	return s
}

// To sets who the step addresses. Use domain.TopicRef for the session topic.
func (s *StepBuilder) To(target string) *StepBuilder {
	s.step.TargetRef = target
	return s
}

// Task sets the task type, e.g. "question" or "rebuttal".
func (s *StepBuilder) Task(taskType string) *StepBuilder {
	s.step.TaskType = taskType
	return s
}

// Describe adds free-form instructions for the speaker.
func (s *StepBuilder) Describe(description string) *StepBuilder {
	s.step.Description = description
	return s
}

// AllContext feeds every prior message to the speaker (the default).
func (s *StepBuilder) AllContext() *StepBuilder {
	s.step.Scope = domain.ContextScope{Kind: domain.ScopeAll}
	return s
}

// LastN feeds only the n most recent messages.
func (s *StepBuilder) LastN(n int) *StepBuilder {
	s.step.Scope = domain.ContextScope{Kind: domain.ScopeLastN, LastN: n}
	return s
}

// Involving feeds only messages spoken by or addressed to the given refs.
func (s *StepBuilder) Involving(refs ...string) *StepBuilder {
	s.step.Scope = domain.ContextScope{Kind: domain.ScopeRoles, Roles: refs}
	return s
}

// NoContext feeds no history at all.
func (s *StepBuilder) NoContext() *StepBuilder {
	s.step.Scope = domain.ContextScope{Kind: domain.ScopeNone}
	return s
}

// Jump routes unconditionally to the step with the given order.
func (s *StepBuilder) Jump(order int) *StepBuilder {
	s.step.Routing = &domain.Routing{NextStepOrder: order}
	return s
}

// Loop jumps back to order until the exit condition holds or the step has
// run maxLoops times. An empty condition loops until the cap.
func (s *StepBuilder) Loop(order, maxLoops int, exitCondition string) *StepBuilder {
	s.step.Routing = &domain.Routing{
		NextStepOrder: order,
		MaxLoops:      maxLoops,
		ExitCondition: exitCondition,
	}
	return s
}

// Step appends the next step to the template.
func (s *StepBuilder) Step(speaker string) *StepBuilder {
	return s.builder.Step(speaker)
}

// Build validates and returns the whole template.
func (s *StepBuilder) Build() (*domain.Template, error) {
	return s.builder.Build()
}

// Catalog builds the whole template and registers it with the roles in a new
// in-memory catalog.
func (s *StepBuilder) Catalog(roles ...domain.Role) (*memory.Catalog, error) {
	return s.builder.Catalog(roles...)
}

// Value returns the configured step.
func (s *StepBuilder) Value() domain.FlowStep {
	return s.step
}
