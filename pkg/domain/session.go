package domain

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"   // Routing produced no further step
	StatusFailed     Status = "failed"     // Generation failure cap reached
	StatusTerminated Status = "terminated" // Stopped by an operator
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusTerminated
}

// CanAdvance reports whether a step may be executed in this status.
func (s Status) CanAdvance() bool {
	return s == StatusNotStarted || s == StatusRunning
}

// EndOfFlow is the pointer value of a finished session.
const EndOfFlow = -1

// Session is one execution of a template.
// Steps and Casting are snapshots taken at creation.
type Session struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Topic      string `json:"topic"`
	Status     Status `json:"status"`

	// Pointer is the 0-based index of the next step to run, or EndOfFlow.
	Pointer int `json:"pointer"`

	// Round counts executed steps (1-based once the first step ran).
	Round int `json:"round"`

	// LoopCounters holds per-step execution counts, keyed by step order.
	LoopCounters map[int]int `json:"loop_counters,omitempty"`

	// Casting binds each speaker ref to a role snapshot.
	Casting map[string]Role `json:"casting"`

	Steps     []FlowStep `json:"steps"`
	MaxRounds int        `json:"max_rounds,omitempty"`

	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	FailureReason       string `json:"failure_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NewSession creates a not-started session from a template and a cast.
func NewSession(id string, t *Template, casting map[string]Role, topic string, now time.Time) *Session {
	if topic == "" {
		topic = t.Topic
	}
	steps := make([]FlowStep, len(t.Steps))
	for i, s := range t.Steps {
		steps[i] = s.clone()
	}
	cast := make(map[string]Role, len(casting))
	for ref, r := range casting {
		cast[ref] = r
	}
	return &Session{
		ID:           id,
		TemplateID:   t.ID,
		Topic:        topic,
		Status:       StatusNotStarted,
		Pointer:      0,
		LoopCounters: make(map[int]int),
		Casting:      cast,
		Steps:        steps,
		MaxRounds:    t.MaxRounds,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CurrentStep returns the step under the pointer.
func (s *Session) CurrentStep() (FlowStep, bool) {
	if s.Pointer < 0 || s.Pointer >= len(s.Steps) {
		return FlowStep{}, false
	}
	return s.Steps[s.Pointer], true
}

// Clone returns a deep copy, so callers can mutate without touching stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.LoopCounters = make(map[int]int, len(s.LoopCounters))
	for k, v := range s.LoopCounters {
		c.LoopCounters[k] = v
	}
	c.Casting = make(map[string]Role, len(s.Casting))
	for k, v := range s.Casting {
		c.Casting[k] = v
	}
	c.Steps = make([]FlowStep, len(s.Steps))
	for i, st := range s.Steps {
		c.Steps[i] = st.clone()
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

func (s FlowStep) clone() FlowStep {
	c := s
	if s.Scope.Roles != nil {
		c.Scope.Roles = append([]string(nil), s.Scope.Roles...)
	}
	if s.Routing != nil {
		r := *s.Routing
		c.Routing = &r
	}
	return c
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	Topic      string    `json:"topic"`
	Status     Status    `json:"status"`
	Round      int       `json:"round"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Summary projects the session onto its listing view.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		TemplateID: s.TemplateID,
		Topic:      s.Topic,
		Status:     s.Status,
		Round:      s.Round,
		UpdatedAt:  s.UpdatedAt,
	}
}
