package domain

// TopicRef is the target sentinel meaning "address the session topic".
const TopicRef = "@topic"

// ScopeKind selects which prior messages are fed to a generation call.
type ScopeKind string

const (
	ScopeAll   ScopeKind = "all"    // Every prior message
	ScopeLastN ScopeKind = "last_n" // The N most recent messages
	ScopeRoles ScopeKind = "roles"  // Messages spoken by or addressed to a set of roles
	ScopeNone  ScopeKind = "none"   // No history at all
)

// DefaultLastN is used when a last_n scope does not carry a count.
const DefaultLastN = 5

// ContextScope is the context selection policy of a step.
type ContextScope struct {
	Kind  ScopeKind `json:"kind" yaml:"kind" mapstructure:"kind" jsonschema:"enum=all,enum=last_n,enum=roles,enum=none"`
	LastN int       `json:"last_n,omitempty" yaml:"last_n,omitempty" mapstructure:"last_n"`
	Roles []string  `json:"roles,omitempty" yaml:"roles,omitempty" mapstructure:"roles"`
}

// Routing controls what happens after a step has produced its message.
// Zero values mean "unset".
type Routing struct {
	// NextStepOrder jumps to the step with this order (forward or backward).
	NextStepOrder int `json:"next_step_order,omitempty" yaml:"next_step_order,omitempty" mapstructure:"next_step_order"`

	// ExitCondition is evaluated by a pluggable predicate; a true result exits the loop.
	ExitCondition string `json:"exit_condition,omitempty" yaml:"exit_condition,omitempty" mapstructure:"exit_condition"`

	// MaxLoops caps how many times this step may run before falling through.
	MaxLoops int `json:"max_loops,omitempty" yaml:"max_loops,omitempty" mapstructure:"max_loops"`
}

// FlowStep is one scripted turn.
type FlowStep struct {
	Order       int          `json:"order" yaml:"order" mapstructure:"order" jsonschema:"minimum=1"`
	SpeakerRef  string       `json:"speaker" yaml:"speaker" mapstructure:"speaker"`
	TargetRef   string       `json:"target,omitempty" yaml:"target,omitempty" mapstructure:"target"`
	TaskType    string       `json:"task_type" yaml:"task_type" mapstructure:"task_type"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Scope       ContextScope `json:"context_scope" yaml:"context_scope" mapstructure:"context_scope"`
	Routing     *Routing     `json:"routing,omitempty" yaml:"routing,omitempty" mapstructure:"routing"`
}

// HasTarget reports whether the step addresses someone.
func (s FlowStep) HasTarget() bool {
	return s.TargetRef != ""
}

// Template is a published, immutable flow definition.
type Template struct {
	ID          string     `json:"id" yaml:"id" mapstructure:"id"`
	Name        string     `json:"name" yaml:"name" mapstructure:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Topic       string     `json:"topic,omitempty" yaml:"topic,omitempty" mapstructure:"topic"`
	MaxRounds   int        `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty" mapstructure:"max_rounds"`
	Steps       []FlowStep `json:"steps" yaml:"steps" mapstructure:"steps"`
}

// SpeakerRefs returns the distinct speaker and target refs used by the template, in first-use order.
// The topic sentinel is not a participant and is skipped.
func (t *Template) SpeakerRefs() []string {
	seen := make(map[string]bool)
	var refs []string
	add := func(ref string) {
		if ref == "" || ref == TopicRef || seen[ref] {
			return
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	for _, s := range t.Steps {
		add(s.SpeakerRef)
		add(s.TargetRef)
	}
	return refs
}
