package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flow"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/google/uuid"
)

const (
	DefaultGenerationTimeout      = 60 * time.Second
	DefaultMaxConsecutiveFailures = 3
)

var errEmptyGeneration = errors.New("generator returned empty content")

// Engine is the session state machine. It executes one step per Advance call
// and owns every status transition.
type Engine struct {
	repo      ports.SessionRepository
	sessions  *session.Manager
	generator ports.Generator
	catalog   ports.Catalog
	predicate ports.LoopPredicate
	notifier  ports.Notifier
	hooks     domain.LifecycleHooks
	logger    *slog.Logger

	generationTimeout time.Duration
	maxFailures       int
	now               func() time.Time
	newID             func() string
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithSessionManager shares a Manager (and its locks) with other components.
func WithSessionManager(m *session.Manager) EngineOption {
	return func(e *Engine) { e.sessions = m }
}

// WithCatalog sets the role and template source used by CreateSession.
func WithCatalog(c ports.Catalog) EngineOption {
	return func(e *Engine) { e.catalog = c }
}

// WithLoopPredicate plugs in the evaluator of exit conditions.
// Without one, exit conditions are ignored and max_loops alone bounds loops.
func WithLoopPredicate(p ports.LoopPredicate) EngineOption {
	return func(e *Engine) { e.predicate = p }
}

// WithNotifier pushes committed changes to observers.
func WithNotifier(n ports.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(h domain.LifecycleHooks) EngineOption {
	return func(e *Engine) { e.hooks = h }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithGenerationTimeout bounds each generator call.
func WithGenerationTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.generationTimeout = d
		}
	}
}

// WithMaxConsecutiveFailures sets how many failed generations in a row move a session to failed.
func WithMaxConsecutiveFailures(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxFailures = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides UUID generation, for tests.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an engine over a repository and a generator.
func NewEngine(repo ports.SessionRepository, generator ports.Generator, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:              repo,
		generator:         generator,
		logger:            logging.NewNop(),
		generationTimeout: DefaultGenerationTimeout,
		maxFailures:       DefaultMaxConsecutiveFailures,
		now:               func() time.Time { return time.Now().UTC() },
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sessions == nil {
		e.sessions = session.NewManager(repo, session.WithLogger(e.logger))
	}
	return e
}

// CreateRequest describes a new session.
type CreateRequest struct {
	// ID is optional; a UUID is generated when empty.
	ID string `json:"id,omitempty"`

	// TemplateID names a catalog template. Template, when set, is used instead.
	TemplateID string           `json:"template_id,omitempty"`
	Template   *domain.Template `json:"template,omitempty"`

	// Casting binds speaker refs to catalog role IDs.
	Casting map[string]string `json:"casting,omitempty"`

	// Roles binds speaker refs to inline roles and wins over Casting.
	Roles map[string]domain.Role `json:"roles,omitempty"`

	// Topic overrides the template's seed topic.
	Topic string `json:"topic,omitempty"`
}

// CreateSession validates the template and the casting and stores a not-started
// session holding snapshots of both.
func (e *Engine) CreateSession(ctx context.Context, req CreateRequest) (*domain.Session, error) {
	tpl := req.Template
	if tpl == nil {
		if e.catalog == nil {
			return nil, domain.NewError(domain.KindInvalidTemplate, "no template given and no catalog configured", nil)
		}
		var err error
		tpl, err = e.catalog.Template(ctx, req.TemplateID)
		if err != nil {
			return nil, err
		}
	}
	if err := flow.Validate(tpl); err != nil {
		return nil, err
	}

	cast, err := e.resolveCasting(ctx, tpl, req)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = e.newID()
	}
	s := domain.NewSession(id, tpl, cast, req.Topic, e.now())
	if err := e.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	e.logger.Info("Session created",
		logging.SessionID(s.ID),
		logging.TemplateID(tpl.ID),
		slog.Int("steps", len(s.Steps)),
	)
	return s, nil
}

func (e *Engine) resolveCasting(ctx context.Context, tpl *domain.Template, req CreateRequest) (map[string]domain.Role, error) {
	cast := make(map[string]domain.Role)
	var missing []string
	for _, ref := range tpl.SpeakerRefs() {
		if role, ok := req.Roles[ref]; ok {
			cast[ref] = role
			continue
		}
		roleID, ok := req.Casting[ref]
		if !ok || roleID == "" {
			missing = append(missing, ref)
			continue
		}
		if e.catalog == nil {
			return nil, domain.NewError(domain.KindInvalidCasting, fmt.Sprintf("ref %q names role %q but no catalog is configured", ref, roleID), nil)
		}
		role, err := e.catalog.Role(ctx, roleID)
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidCasting, fmt.Sprintf("ref %q", ref), err)
		}
		cast[ref] = *role
	}
	if len(missing) > 0 {
		return nil, domain.NewError(domain.KindInvalidCasting, "no role bound to "+strings.Join(missing, ", "), nil)
	}
	return cast, nil
}

// Advance executes the current step of a session: it resolves the context,
// calls the generator, appends the message and moves the pointer, atomically.
// A not-started session is started implicitly.
//
// On generation failure nothing but the consecutive failure counter changes;
// reaching the cap moves the session to failed. Caller cancellation commits nothing.
func (e *Engine) Advance(ctx context.Context, sessionID string) (*domain.AdvanceResult, error) {
	var (
		result *domain.AdvanceResult
		events []*domain.Event
	)
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		result, events, err = e.advance(ctx, sessionID)
		return err
	})
	for _, ev := range events {
		e.emit(ctx, ev)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) advance(ctx context.Context, sessionID string) (*domain.AdvanceResult, []*domain.Event, error) {
	s, err := e.repo.Load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !s.Status.CanAdvance() {
		return nil, nil, domain.InvalidStateError("advance", s.Status)
	}

	step, ok := s.CurrentStep()
	if !ok {
		return nil, nil, domain.NewError(domain.KindRoutingOverflow, fmt.Sprintf("pointer %d is outside the %d steps of session %s", s.Pointer, len(s.Steps), s.ID), nil)
	}

	speaker, ok := castParticipant(s, step.SpeakerRef)
	if !ok {
		return nil, nil, domain.NewError(domain.KindMissingCasting, fmt.Sprintf("step %d: speaker %q has no role bound", step.Order, step.SpeakerRef), nil)
	}
	var target *participant
	if step.HasTarget() {
		p, ok := castParticipant(s, step.TargetRef)
		if !ok {
			return nil, nil, domain.NewError(domain.KindMissingCasting, fmt.Sprintf("step %d: target %q has no role bound", step.Order, step.TargetRef), nil)
		}
		target = &p
	}

	history, err := e.repo.Messages(ctx, s.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	entries := ResolveContext(history, step, s.Casting, s.Topic)
	prompt := buildPrompt(s, step, speaker, target, entries)

	log := e.logger.With(logging.SessionID(s.ID), logging.StepOrder(step.Order), logging.Round(s.Round+1))
	log.Debug("Generating", slog.String("speaker", speaker.Name), slog.Int("context_entries", len(entries)))

	started := time.Now()
	content, genErr := e.generate(ctx, prompt)
	if genErr != nil {
		if ctx.Err() != nil {
			// Caller gave up: not the generator's fault, nothing is recorded.
			return nil, nil, domain.NewError(domain.KindGenerationFailure, "advance cancelled", genErr)
		}
		return e.recordFailure(ctx, s, step, genErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.NewError(domain.KindGenerationFailure, "advance cancelled", err)
	}

	now := e.now()
	next := s.Clone()
	prevStatus := s.Status
	if next.Status == domain.StatusNotStarted {
		next.Status = domain.StatusRunning
	}
	next.Round++

	replyTo := ""
	if len(history) > 0 {
		replyTo = history[len(history)-1].ID
	}
	msg := buildMessage(e.newID(), next, step, speaker, target, content, replyTo, now)

	exitMet := e.exitConditionMet(ctx, log, step, msg)
	if err := ctx.Err(); err != nil {
		return nil, nil, domain.NewError(domain.KindGenerationFailure, "advance cancelled", err)
	}

	tr := Route(step, next.LoopCounters, len(next.Steps), exitMet)
	info := domain.ExecutionInfo{
		CurrentPointer:  s.Pointer,
		StepOrder:       step.Order,
		Round:           next.Round,
		Jumped:          tr.Kind == JumpTo,
		LoopIncremented: isLoopStep(step),
		LoopCount:       tr.LoopCount,
		LoopExited:      tr.LoopExited,
		RoutingOverflow: tr.Overflow,
	}
	if tr.Overflow {
		log.Warn("Jump target outside the flow, finishing session",
			slog.Int("next_step_order", step.Routing.NextStepOrder),
			slog.Int("steps", len(next.Steps)),
		)
	}

	if tr.Kind == Terminate {
		finish(next, now)
	} else {
		next.Pointer = tr.Order - 1
		if next.MaxRounds > 0 && next.Round >= next.MaxRounds {
			log.Info("Round limit reached, finishing session", slog.Int("max_rounds", next.MaxRounds))
			finish(next, now)
		}
	}
	info.NextPointer = next.Pointer
	info.IsFinished = next.Status == domain.StatusFinished

	next.ConsecutiveFailures = 0
	next.FailureReason = ""
	next.UpdatedAt = now

	if err := e.repo.AppendMessage(ctx, next, msg); err != nil {
		return nil, nil, fmt.Errorf("failed to commit step: %w", err)
	}

	log.Info("Step executed",
		slog.String("speaker", speaker.Name),
		slog.String("transition", tr.Kind.String()),
		slog.Int("next_pointer", next.Pointer),
		slog.Duration("took", time.Since(started)),
	)

	stepEvent := domain.NewEvent(domain.EventStepCompleted, next, now)
	stepEvent.Message = msg
	stepEvent.Execution = &info
	stepEvent.Diff = domain.Diff(s, next)
	events := []*domain.Event{stepEvent}
	if next.Status != prevStatus {
		ev := domain.NewEvent(domain.EventStatusChanged, next, now)
		ev.PreviousStatus = prevStatus
		events = append(events, ev)
	}

	return &domain.AdvanceResult{Message: msg, Session: next, Execution: info}, events, nil
}

// exitConditionMet evaluates the step's exit condition against the new message.
// Predicates may call the generator, so they share its timeout.
func (e *Engine) exitConditionMet(ctx context.Context, log *slog.Logger, step domain.FlowStep, msg *domain.Message) bool {
	if step.Routing == nil || step.Routing.ExitCondition == "" || e.predicate == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()

	met, err := e.predicate.Evaluate(pctx, step.Routing.ExitCondition, msg)
	if err != nil {
		log.Warn("Exit condition evaluation failed, treating as not met",
			slog.String("condition", step.Routing.ExitCondition),
			logging.Error(err),
		)
		return false
	}
	return met
}

func (e *Engine) generate(ctx context.Context, prompt domain.Prompt) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()

	content, err := e.generator.Generate(gctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", errEmptyGeneration
	}
	return content, nil
}

func (e *Engine) recordFailure(ctx context.Context, s *domain.Session, step domain.FlowStep, cause error) (*domain.AdvanceResult, []*domain.Event, error) {
	now := e.now()
	next := s.Clone()
	next.ConsecutiveFailures++
	next.UpdatedAt = now

	reason := fmt.Sprintf("step %d: generation failed (%d/%d): %v", step.Order, next.ConsecutiveFailures, e.maxFailures, cause)
	failedEvent := domain.NewEvent(domain.EventGenerationFailed, next, now)
	failedEvent.Reason = reason
	events := []*domain.Event{failedEvent}

	if next.ConsecutiveFailures >= e.maxFailures {
		next.Status = domain.StatusFailed
		next.FailureReason = reason
		next.EndedAt = &now
		ev := domain.NewEvent(domain.EventStatusChanged, next, now)
		ev.PreviousStatus = s.Status
		ev.Reason = reason
		ev.Diff = domain.Diff(s, next)
		events = append(events, ev)
	}

	e.logger.Warn("Generation failed",
		logging.SessionID(s.ID),
		logging.StepOrder(step.Order),
		slog.Int("consecutive_failures", next.ConsecutiveFailures),
		logging.Status(next.Status),
		logging.Error(cause),
	)

	if err := e.repo.Update(ctx, next); err != nil {
		e.logger.Error("Failed to record generation failure", logging.SessionID(s.ID), logging.Error(err))
		return nil, nil, domain.NewError(domain.KindGenerationFailure, reason, errors.Join(cause, err))
	}
	return nil, events, domain.NewError(domain.KindGenerationFailure, reason, cause)
}

func finish(s *domain.Session, now time.Time) {
	s.Status = domain.StatusFinished
	s.Pointer = domain.EndOfFlow
	s.EndedAt = &now
}

// Start moves a not-started session to running without producing a message.
func (e *Engine) Start(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.transition(ctx, sessionID, "start", func(s *domain.Session) bool {
		return s.Status == domain.StatusNotStarted
	}, domain.StatusRunning)
}

// Pause suspends a running session.
func (e *Engine) Pause(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.transition(ctx, sessionID, "pause", func(s *domain.Session) bool {
		return s.Status == domain.StatusRunning
	}, domain.StatusPaused)
}

// Resume continues a paused session. Pointer, counters and round are untouched.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.transition(ctx, sessionID, "resume", func(s *domain.Session) bool {
		return s.Status == domain.StatusPaused
	}, domain.StatusRunning)
}

// Terminate stops a session for good, from any non-terminal status.
func (e *Engine) Terminate(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.transition(ctx, sessionID, "terminate", func(s *domain.Session) bool {
		return !s.Status.IsTerminal()
	}, domain.StatusTerminated)
}

func (e *Engine) transition(ctx context.Context, sessionID, op string, allowed func(*domain.Session) bool, to domain.Status) (*domain.Session, error) {
	var prev domain.Status
	s, err := e.sessions.Mutate(ctx, sessionID, func(s *domain.Session) error {
		if !allowed(s) {
			return domain.InvalidStateError(op, s.Status)
		}
		now := e.now()
		prev = s.Status
		s.Status = to
		s.UpdatedAt = now
		if to.IsTerminal() {
			s.EndedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Session status changed",
		logging.SessionID(s.ID),
		slog.String("from", string(prev)),
		logging.Status(s.Status),
	)
	ev := domain.NewEvent(domain.EventStatusChanged, s, s.UpdatedAt)
	ev.PreviousStatus = prev
	e.emit(ctx, ev)
	return s, nil
}

// Session returns the current snapshot of a session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.repo.Load(ctx, sessionID)
}

// Transcript returns the messages of a session in round order.
func (e *Engine) Transcript(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	return e.repo.Messages(ctx, sessionID)
}

// Sessions lists the summaries of stored sessions. Sessions that vanish
// between listing and loading are skipped.
func (e *Engine) Sessions(ctx context.Context) ([]domain.SessionSummary, error) {
	ids, err := e.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionSummary, 0, len(ids))
	for _, id := range ids {
		s, err := e.repo.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.Summary())
	}
	return out, nil
}

// Delete removes a session and its transcript.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, sessionID)
}

// Catalog exposes the configured catalog (may be nil).
func (e *Engine) Catalog() ports.Catalog {
	return e.catalog
}

func (e *Engine) emit(ctx context.Context, ev *domain.Event) {
	switch ev.Type {
	case domain.EventStepCompleted:
		if e.hooks.OnStepCompleted != nil {
			e.hooks.OnStepCompleted(ctx, ev)
		}
	case domain.EventStatusChanged:
		if e.hooks.OnStatusChanged != nil {
			e.hooks.OnStatusChanged(ctx, ev)
		}
	case domain.EventGenerationFailed:
		if e.hooks.OnGenerationFailed != nil {
			e.hooks.OnGenerationFailed(ctx, ev)
		}
	}
	if e.notifier == nil {
		return
	}
	// Observers must not be able to undo a committed step.
	if err := e.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("Notification failed",
			logging.SessionID(ev.SessionID),
			slog.String("event", string(ev.Type)),
			logging.Error(err),
		)
	}
}
