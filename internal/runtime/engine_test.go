package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo answers with the speaker name, round and context size.
var echo = ports.GeneratorFunc(func(_ context.Context, p domain.Prompt) (string, error) {
	return fmt.Sprintf("%s@%d ctx=%d", p.Speaker, p.Round, len(p.Context)), nil
})

type fixture struct {
	repo    *memory.Repository
	catalog *memory.Catalog
	engine  *Engine
}

func newFixture(t *testing.T, gen ports.Generator, opts ...EngineOption) *fixture {
	t.Helper()
	repo := memory.NewRepository()
	catalog := memory.NewCatalog()
	require.NoError(t, catalog.AddRoles(
		domain.Role{ID: "alice", Name: "Alice", Prompt: "You are Alice."},
		domain.Role{ID: "bob", Name: "Bob", Prompt: "You are Bob."},
	))
	require.NoError(t, catalog.AddTemplates(scenarioTemplate()))

	n := 0
	base := []EngineOption{
		WithCatalog(catalog),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	}
	return &fixture{
		repo:    repo,
		catalog: catalog,
		engine:  NewEngine(repo, gen, append(base, opts...)...),
	}
}

func (f *fixture) create(t *testing.T, tpl *domain.Template) *domain.Session {
	t.Helper()
	s, err := f.engine.CreateSession(context.Background(), CreateRequest{
		Template: tpl,
		Casting:  map[string]string{"A": "alice", "B": "bob"},
		Topic:    "Should we rewrite it in Go?",
	})
	require.NoError(t, err)
	return s
}

// scenarioTemplate: A opens, B answers A, A replies to B and loops back twice.
func scenarioTemplate() *domain.Template {
	return &domain.Template{
		ID: "debate",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "opening"},
			{Order: 2, SpeakerRef: "B", TargetRef: "A", TaskType: "rebuttal", Scope: domain.ContextScope{Kind: domain.ScopeLastN, LastN: 1}},
			{Order: 3, SpeakerRef: "A", TargetRef: "B", TaskType: "response", Routing: &domain.Routing{NextStepOrder: 2, MaxLoops: 2}},
		},
	}
}

func TestEngine_EndToEndScenario(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	s := f.create(t, scenarioTemplate())
	assert.Equal(t, domain.StatusNotStarted, s.Status)

	type want struct {
		order, round, loopCount, next int
		jumped, finished              bool
	}
	expected := []want{
		{order: 1, round: 1, loopCount: 1, next: 1},
		{order: 2, round: 2, loopCount: 1, next: 2},
		{order: 3, round: 3, loopCount: 1, next: 1, jumped: true},
		{order: 2, round: 4, loopCount: 2, next: 2},
		{order: 3, round: 5, loopCount: 2, next: domain.EndOfFlow, finished: true},
	}

	for i, w := range expected {
		res, err := f.engine.Advance(ctx, s.ID)
		require.NoError(t, err, "advance %d", i+1)
		assert.Equal(t, w.order, res.Execution.StepOrder, "advance %d", i+1)
		assert.Equal(t, w.round, res.Message.Round)
		assert.Equal(t, w.round, res.Session.Round)
		assert.Equal(t, w.loopCount, res.Execution.LoopCount)
		assert.Equal(t, w.next, res.Execution.NextPointer)
		assert.Equal(t, w.jumped, res.Execution.Jumped)
		assert.Equal(t, w.finished, res.Execution.IsFinished)
	}

	final, err := f.engine.Session(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, final.Status)
	assert.Equal(t, domain.EndOfFlow, final.Pointer)
	assert.NotNil(t, final.EndedAt)
	assert.Empty(t, final.LoopCounters[3])

	msgs, err := f.engine.Transcript(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	// Opening sees the topic; step 2 sees exactly one message.
	assert.Equal(t, "Alice@1 ctx=1", msgs[0].Content)
	assert.Equal(t, "Bob@2 ctx=1", msgs[1].Content)
	assert.Equal(t, "Alice@3 ctx=2", msgs[2].Content)
	assert.Equal(t, "Alice", msgs[1].TargetName)
	assert.Equal(t, "opening", msgs[0].Section)
	assert.Equal(t, msgs[0].ID, msgs[1].ReplyTo)
	assert.Empty(t, msgs[0].ReplyTo)
}

func TestEngine_TerminalSessionsRejectAdvance(t *testing.T) {
	ctx := context.Background()

	for _, terminal := range []domain.Status{domain.StatusFinished, domain.StatusTerminated, domain.StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t, echo)
			s := f.create(t, scenarioTemplate())
			_, err := f.engine.Advance(ctx, s.ID)
			require.NoError(t, err)

			stored, err := f.repo.Load(ctx, s.ID)
			require.NoError(t, err)
			stored.Status = terminal
			require.NoError(t, f.repo.Update(ctx, stored))

			before, _ := f.repo.Load(ctx, s.ID)
			for i := 0; i < 3; i++ {
				_, err := f.engine.Advance(ctx, s.ID)
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidState)
				assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
			}
			after, _ := f.repo.Load(ctx, s.ID)
			assert.Equal(t, before, after)
			msgs, _ := f.repo.Messages(ctx, s.ID)
			assert.Len(t, msgs, 1)
		})
	}
}

func TestEngine_LoopCap(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			f := newFixture(t, echo)
			ctx := context.Background()
			s := f.create(t, &domain.Template{
				ID: "self-loop",
				Steps: []domain.FlowStep{
					{Order: 1, SpeakerRef: "A", TaskType: "opening"},
					{Order: 2, SpeakerRef: "B", TaskType: "iterate", Routing: &domain.Routing{NextStepOrder: 2, MaxLoops: k}},
					{Order: 3, SpeakerRef: "A", TaskType: "summary"},
				},
			})

			executions := 0
			for i := 0; i < k+5; i++ {
				res, err := f.engine.Advance(ctx, s.ID)
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrInvalidState)
					continue
				}
				if res.Execution.StepOrder == 2 {
					executions++
				}
			}
			assert.Equal(t, k, executions)

			final, _ := f.engine.Session(ctx, s.ID)
			assert.Equal(t, domain.StatusFinished, final.Status)
			assert.Equal(t, k+2, final.Round)
		})
	}
}

func TestEngine_PointerInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	for iter := 0; iter < 50; iter++ {
		n := 1 + rng.Intn(6)
		steps := make([]domain.FlowStep, n)
		for i := range steps {
			steps[i] = domain.FlowStep{Order: i + 1, SpeakerRef: []string{"A", "B"}[rng.Intn(2)], TaskType: "turn"}
			if rng.Intn(2) == 0 {
				steps[i].Routing = &domain.Routing{NextStepOrder: 1 + rng.Intn(n), MaxLoops: 1 + rng.Intn(3)}
			}
		}
		f := newFixture(t, echo)
		s := f.create(t, &domain.Template{ID: fmt.Sprintf("random-%d", iter), Steps: steps})

		for i := 0; i < 60; i++ {
			_, err := f.engine.Advance(ctx, s.ID)
			cur, lerr := f.repo.Load(ctx, s.ID)
			require.NoError(t, lerr)
			valid := cur.Pointer == domain.EndOfFlow || (cur.Pointer >= 0 && cur.Pointer < n)
			require.True(t, valid, "iteration %d: pointer %d out of range for %d steps", iter, cur.Pointer, n)
			if cur.Pointer == domain.EndOfFlow {
				assert.Equal(t, domain.StatusFinished, cur.Status)
			}
			if err != nil {
				require.ErrorIs(t, err, domain.ErrInvalidState)
				break
			}
		}
	}
}

func TestEngine_RollbackOnFailure(t *testing.T) {
	fail := false
	gen := ports.GeneratorFunc(func(ctx context.Context, p domain.Prompt) (string, error) {
		if fail {
			return "", errors.New("upstream 503")
		}
		return echo(ctx, p)
	})
	f := newFixture(t, gen, WithMaxConsecutiveFailures(5))
	ctx := context.Background()
	s := f.create(t, scenarioTemplate())

	_, err := f.engine.Advance(ctx, s.ID)
	require.NoError(t, err)
	before, _ := f.repo.Load(ctx, s.ID)
	beforeMsgs, _ := f.repo.Messages(ctx, s.ID)

	fail = true
	_, err = f.engine.Advance(ctx, s.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)

	after, _ := f.repo.Load(ctx, s.ID)
	afterMsgs, _ := f.repo.Messages(ctx, s.ID)
	assert.Equal(t, before.Round, after.Round)
	assert.Equal(t, before.Pointer, after.Pointer)
	assert.Equal(t, before.LoopCounters, after.LoopCounters)
	assert.Len(t, afterMsgs, len(beforeMsgs))
	assert.Equal(t, domain.StatusRunning, after.Status)
	assert.Equal(t, 1, after.ConsecutiveFailures)

	// A success clears the failure streak.
	fail = false
	_, err = f.engine.Advance(ctx, s.ID)
	require.NoError(t, err)
	after, _ = f.repo.Load(ctx, s.ID)
	assert.Zero(t, after.ConsecutiveFailures)
}

func TestEngine_EmptyContentIsFailure(t *testing.T) {
	gen := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) { return "  \n", nil })
	f := newFixture(t, gen)
	s := f.create(t, scenarioTemplate())

	_, err := f.engine.Advance(context.Background(), s.ID)
	assert.ErrorIs(t, err, domain.ErrGenerationFailure)
	msgs, _ := f.repo.Messages(context.Background(), s.ID)
	assert.Empty(t, msgs)
}

func TestEngine_FailureCap(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []*domain.Event
	)
	gen := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) {
		return "", errors.New("model overloaded")
	})
	f := newFixture(t, gen,
		WithMaxConsecutiveFailures(2),
		WithLifecycleHooks(domain.LifecycleHooks{
			OnGenerationFailed: func(_ context.Context, ev *domain.Event) {
				mu.Lock()
				defer mu.Unlock()
				failed = append(failed, ev)
			},
		}),
	)
	ctx := context.Background()
	s := f.create(t, scenarioTemplate())

	_, err := f.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, domain.ErrGenerationFailure)
	cur, _ := f.repo.Load(ctx, s.ID)
	assert.Equal(t, domain.StatusNotStarted, cur.Status)

	_, err = f.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, domain.ErrGenerationFailure)
	cur, _ = f.repo.Load(ctx, s.ID)
	assert.Equal(t, domain.StatusFailed, cur.Status)
	assert.Contains(t, cur.FailureReason, "model overloaded")
	assert.NotNil(t, cur.EndedAt)
	assert.Zero(t, cur.Round)

	_, err = f.engine.Advance(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Len(t, failed, 2)
}

func TestEngine_CancellationDoesNotCount(t *testing.T) {
	gen := ports.GeneratorFunc(func(ctx context.Context, _ domain.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen)
	s := f.create(t, scenarioTemplate())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, domain.ErrGenerationFailure)
	assert.ErrorIs(t, err, context.Canceled)

	cur, _ := f.repo.Load(context.Background(), s.ID)
	assert.Zero(t, cur.ConsecutiveFailures)
	assert.Equal(t, domain.StatusNotStarted, cur.Status)
}

func TestEngine_TimeoutCounts(t *testing.T) {
	gen := ports.GeneratorFunc(func(ctx context.Context, _ domain.Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	f := newFixture(t, gen, WithGenerationTimeout(10*time.Millisecond))
	s := f.create(t, scenarioTemplate())

	_, err := f.engine.Advance(context.Background(), s.ID)
	require.ErrorIs(t, err, domain.ErrGenerationFailure)
	cur, _ := f.repo.Load(context.Background(), s.ID)
	assert.Equal(t, 1, cur.ConsecutiveFailures)
}

func TestEngine_ExitPredicate(t *testing.T) {
	pred := predicateFunc(func(_ context.Context, cond string, last *domain.Message) (bool, error) {
		return strings.Contains(last.Content, cond), nil
	})
	replies := []string{"open", "more", "more", "agreed", "closing"}
	i := 0
	gen := ports.GeneratorFunc(func(context.Context, domain.Prompt) (string, error) {
		r := replies[i]
		i++
		return r, nil
	})
	f := newFixture(t, gen, WithLoopPredicate(pred))
	ctx := context.Background()
	s := f.create(t, &domain.Template{
		ID: "until-agreed",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "opening"},
			{Order: 2, SpeakerRef: "B", TaskType: "negotiate", Routing: &domain.Routing{NextStepOrder: 2, MaxLoops: 10, ExitCondition: "agreed"}},
			{Order: 3, SpeakerRef: "A", TaskType: "summary"},
		},
	})

	var last *domain.AdvanceResult
	for range replies {
		res, err := f.engine.Advance(ctx, s.ID)
		require.NoError(t, err)
		last = res
	}
	assert.True(t, last.Execution.IsFinished)

	msgs, _ := f.engine.Transcript(ctx, s.ID)
	require.Len(t, msgs, 5)
	assert.Equal(t, 3, msgs[4].StepOrder)
	assert.Equal(t, 2, msgs[3].StepOrder)
}

func TestEngine_PredicateRunsUnderGenerationTimeout(t *testing.T) {
	var hadDeadline bool
	pred := predicateFunc(func(ctx context.Context, _ string, _ *domain.Message) (bool, error) {
		_, hadDeadline = ctx.Deadline()
		return false, nil
	})
	f := newFixture(t, echo, WithLoopPredicate(pred), WithGenerationTimeout(time.Minute))
	s := f.create(t, &domain.Template{
		ID: "loop",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "turn", Routing: &domain.Routing{NextStepOrder: 1, MaxLoops: 3, ExitCondition: "x"}},
		},
	})

	_, err := f.engine.Advance(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, hadDeadline)
}

func TestEngine_CancelDuringPredicateCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pred := predicateFunc(func(pctx context.Context, _ string, _ *domain.Message) (bool, error) {
		cancel()
		<-pctx.Done()
		return false, pctx.Err()
	})
	f := newFixture(t, echo, WithLoopPredicate(pred))
	s := f.create(t, &domain.Template{
		ID: "loop",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "turn", Routing: &domain.Routing{NextStepOrder: 1, MaxLoops: 3, ExitCondition: "x"}},
		},
	})

	res, err := f.engine.Advance(ctx, s.ID)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	msgs, err := f.engine.Transcript(bg, s.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	cur, err := f.repo.Load(bg, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, cur.Round)
	assert.Equal(t, 0, cur.Pointer)
	assert.Empty(t, cur.LoopCounters)
	assert.Equal(t, 0, cur.ConsecutiveFailures)
}

func TestEngine_RolesScopeWithInlineRoles(t *testing.T) {
	var lastContext []domain.ContextEntry
	gen := ports.GeneratorFunc(func(_ context.Context, p domain.Prompt) (string, error) {
		lastContext = p.Context
		return p.Speaker + " speaks", nil
	})
	f := newFixture(t, gen)
	ctx := context.Background()
	s, err := f.engine.CreateSession(ctx, CreateRequest{
		Template: &domain.Template{
			ID: "inline",
			Steps: []domain.FlowStep{
				{Order: 1, SpeakerRef: "A", TaskType: "opening"},
				{Order: 2, SpeakerRef: "B", TaskType: "response"},
				{Order: 3, SpeakerRef: "C", TaskType: "response"},
				{Order: 4, SpeakerRef: "B", TaskType: "summary", Scope: domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"A"}}},
			},
		},
		Roles: map[string]domain.Role{
			"A": {Name: "Alice"},
			"B": {Name: "Bob"},
			"C": {Name: "Carol"},
		},
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := f.engine.Advance(ctx, s.ID)
		require.NoError(t, err)
	}
	require.Len(t, lastContext, 1)
	assert.Equal(t, "Alice", lastContext[0].Speaker)
}

func TestEngine_PredicateErrorMeansNotMet(t *testing.T) {
	pred := predicateFunc(func(context.Context, string, *domain.Message) (bool, error) {
		return true, errors.New("bad expression")
	})
	f := newFixture(t, echo, WithLoopPredicate(pred))
	ctx := context.Background()
	s := f.create(t, &domain.Template{
		ID: "loop",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "turn", Routing: &domain.Routing{NextStepOrder: 1, MaxLoops: 3, ExitCondition: "x"}},
		},
	})
	for i := 0; i < 3; i++ {
		res, err := f.engine.Advance(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, i == 2, res.Execution.IsFinished)
	}
}

func TestEngine_MaxRounds(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	tpl := scenarioTemplate()
	tpl.MaxRounds = 2
	s := f.create(t, tpl)

	_, err := f.engine.Advance(ctx, s.ID)
	require.NoError(t, err)
	res, err := f.engine.Advance(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, res.Execution.IsFinished)
	assert.Equal(t, domain.StatusFinished, res.Session.Status)
}

func TestEngine_MissingCasting(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	s := f.create(t, scenarioTemplate())

	// Casting drift on a stored session.
	stored, _ := f.repo.Load(ctx, s.ID)
	delete(stored.Casting, "A")
	require.NoError(t, f.repo.Update(ctx, stored))

	_, err := f.engine.Advance(ctx, s.ID)
	require.ErrorIs(t, err, domain.ErrMissingCasting)
	cur, _ := f.repo.Load(ctx, s.ID)
	assert.Equal(t, stored, cur)
}

func TestEngine_CreateSessionValidation(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()

	_, err := f.engine.CreateSession(ctx, CreateRequest{TemplateID: "debate", Casting: map[string]string{"A": "alice"}})
	require.ErrorIs(t, err, domain.ErrInvalidCasting)
	assert.Contains(t, err.Error(), "B")

	_, err = f.engine.CreateSession(ctx, CreateRequest{TemplateID: "debate", Casting: map[string]string{"A": "alice", "B": "zed"}})
	require.ErrorIs(t, err, domain.ErrInvalidCasting)
	assert.ErrorIs(t, err, domain.ErrRoleNotFound)

	_, err = f.engine.CreateSession(ctx, CreateRequest{TemplateID: "nope"})
	require.ErrorIs(t, err, domain.ErrTemplateNotFound)

	_, err = f.engine.CreateSession(ctx, CreateRequest{Template: &domain.Template{ID: "empty"}})
	require.ErrorIs(t, err, domain.ErrInvalidTemplate)

	s, err := f.engine.CreateSession(ctx, CreateRequest{
		ID:         "inline",
		TemplateID: "debate",
		Casting:    map[string]string{"A": "alice"},
		Roles:      map[string]domain.Role{"B": {ID: "guest", Name: "Guest", Prompt: "Visit."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "inline", s.ID)
	assert.Equal(t, "Guest", s.Casting["B"].Name)
}

func TestEngine_CastingIsSnapshotted(t *testing.T) {
	var prompts []string
	gen := ports.GeneratorFunc(func(_ context.Context, p domain.Prompt) (string, error) {
		prompts = append(prompts, p.SystemPrompt)
		return "ok", nil
	})
	f := newFixture(t, gen)
	ctx := context.Background()
	s := f.create(t, scenarioTemplate())

	require.NoError(t, f.catalog.AddRoles(domain.Role{ID: "alice", Name: "Alice", Prompt: "Changed."}))
	_, err := f.engine.Advance(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"You are Alice."}, prompts)
}

func TestEngine_Lifecycle(t *testing.T) {
	var statuses []domain.Status
	f := newFixture(t, echo, WithLifecycleHooks(domain.LifecycleHooks{
		OnStatusChanged: func(_ context.Context, ev *domain.Event) { statuses = append(statuses, ev.Status) },
	}))
	ctx := context.Background()
	s := f.create(t, scenarioTemplate())

	_, err := f.engine.Pause(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.engine.Start(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.engine.Advance(ctx, s.ID)
	require.NoError(t, err)

	paused, err := f.engine.Pause(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	_, err = f.engine.Advance(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	resumed, err := f.engine.Resume(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, paused.Pointer, resumed.Pointer)
	assert.Equal(t, paused.Round, resumed.Round)

	term, err := f.engine.Terminate(ctx, s.ID)
	require.NoError(t, err)
	assert.NotNil(t, term.EndedAt)

	_, err = f.engine.Terminate(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = f.engine.Resume(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, []domain.Status{domain.StatusRunning, domain.StatusPaused, domain.StatusRunning, domain.StatusTerminated}, statuses)
}

func TestEngine_ImplicitStartEmitsStatusChange(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, echo, WithNotifier(n))
	s := f.create(t, scenarioTemplate())

	_, err := f.engine.Advance(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, n.events, 2)
	assert.Equal(t, domain.EventStepCompleted, n.events[0].Type)
	assert.NotNil(t, n.events[0].Message)
	require.NotNil(t, n.events[0].Diff)
	require.NotNil(t, n.events[0].Diff.Round)
	assert.Equal(t, 1, *n.events[0].Diff.Round)
	assert.Equal(t, domain.EventStatusChanged, n.events[1].Type)
	assert.Equal(t, domain.StatusNotStarted, n.events[1].PreviousStatus)
	assert.Equal(t, domain.StatusRunning, n.events[1].Status)
}

func TestEngine_NotifierErrorsDoNotFailAdvance(t *testing.T) {
	n := &recordingNotifier{err: errors.New("broker down")}
	f := newFixture(t, echo, WithNotifier(n))
	s := f.create(t, scenarioTemplate())

	res, err := f.engine.Advance(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Session.Round)
}

func TestEngine_ConcurrentAdvanceIsSerialized(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	s := f.create(t, &domain.Template{
		ID: "long",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "A", TaskType: "turn"},
			{Order: 2, SpeakerRef: "B", TaskType: "turn", Routing: &domain.Routing{NextStepOrder: 1, MaxLoops: 50}},
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.Advance(ctx, s.ID)
		}()
	}
	wg.Wait()

	cur, _ := f.repo.Load(ctx, s.ID)
	msgs, _ := f.repo.Messages(ctx, s.ID)
	assert.Equal(t, 20, cur.Round)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Round)
	}
}

func TestEngine_SessionsAndDelete(t *testing.T) {
	f := newFixture(t, echo)
	ctx := context.Background()
	a := f.create(t, scenarioTemplate())
	b := f.create(t, scenarioTemplate())

	list, err := f.engine.Sessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, f.engine.Delete(ctx, a.ID))
	_, err = f.engine.Session(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	list, err = f.engine.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
}

type predicateFunc func(ctx context.Context, condition string, last *domain.Message) (bool, error)

func (f predicateFunc) Evaluate(ctx context.Context, condition string, last *domain.Message) (bool, error) {
	return f(ctx, condition, last)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev *domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}
