package flow_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validTemplate() *domain.Template {
	return &domain.Template{
		ID:    "interview",
		Topic: "Go generics",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "host", TargetRef: domain.TopicRef, TaskType: "open", Scope: domain.ContextScope{Kind: domain.ScopeAll}},
			{Order: 2, SpeakerRef: "guest", TargetRef: "host", TaskType: "answer", Scope: domain.ContextScope{Kind: domain.ScopeLastN, LastN: 2}},
			{Order: 3, SpeakerRef: "host", TaskType: "review", Scope: domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"guest"}}, Routing: &domain.Routing{NextStepOrder: 2, MaxLoops: 2}},
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, flow.Validate(validTemplate()))

	tests := []struct {
		name   string
		mutate func(*domain.Template)
		key    string
	}{
		{"no steps", func(tp *domain.Template) { tp.Steps = nil }, "steps"},
		{"gap in orders", func(tp *domain.Template) { tp.Steps[1].Order = 5 }, "steps[1].order"},
		{"duplicate order", func(tp *domain.Template) { tp.Steps[2].Order = 2 }, "steps[2].order"},
		{"missing speaker", func(tp *domain.Template) { tp.Steps[0].SpeakerRef = "" }, "steps[0].speaker"},
		{"topic speaks", func(tp *domain.Template) { tp.Steps[0].SpeakerRef = domain.TopicRef }, "steps[0].speaker"},
		{"unknown scope", func(tp *domain.Template) { tp.Steps[0].Scope.Kind = "everything" }, "steps[0].context_scope.kind"},
		{"empty roles scope", func(tp *domain.Template) { tp.Steps[2].Scope.Roles = nil }, "steps[2].context_scope.roles"},
		{"jump out of range", func(tp *domain.Template) { tp.Steps[2].Routing.NextStepOrder = 9 }, "steps[2].routing.next_step_order"},
		{"negative loops", func(tp *domain.Template) { tp.Steps[2].Routing.MaxLoops = -1 }, "steps[2].routing.max_loops"},
		{"unbounded backward jump", func(tp *domain.Template) { tp.Steps[2].Routing.MaxLoops = 0 }, "steps[2].routing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := validTemplate()
			tt.mutate(tpl)

			err := flow.Validate(tpl)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidTemplate)

			var keys []string
			for _, e := range flow.ValidationErrors(err) {
				var ve *flow.ValidationError
				require.ErrorAs(t, e, &ve)
				keys = append(keys, ve.Key)
			}
			assert.Contains(t, keys, tt.key)
		})
	}
}

func TestValidate_LoopBounds(t *testing.T) {
	t.Run("exit condition alone", func(t *testing.T) {
		tpl := validTemplate()
		tpl.Steps[2].Routing = &domain.Routing{NextStepOrder: 2, ExitCondition: `contains(content, "DONE")`}
		err := flow.Validate(tpl)
		require.ErrorIs(t, err, domain.ErrInvalidTemplate)
		problems := flow.ValidationErrors(err)
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0].Error(), "never terminates")
	})

	t.Run("self jump", func(t *testing.T) {
		tpl := &domain.Template{ID: "spin", Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "a", TaskType: "say", Routing: &domain.Routing{NextStepOrder: 1, ExitCondition: "consensus"}},
		}}
		assert.ErrorIs(t, flow.Validate(tpl), domain.ErrInvalidTemplate)
	})

	t.Run("bounded by max_rounds", func(t *testing.T) {
		tpl := validTemplate()
		tpl.MaxRounds = 12
		tpl.Steps[2].Routing = &domain.Routing{NextStepOrder: 2, ExitCondition: `contains(content, "DONE")`}
		assert.NoError(t, flow.Validate(tpl))
	})

	t.Run("forward jump needs no bound", func(t *testing.T) {
		tpl := validTemplate()
		tpl.Steps[0].Routing = &domain.Routing{NextStepOrder: 3}
		assert.NoError(t, flow.Validate(tpl))
	})
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want domain.ContextScope
	}{
		{"all", domain.ContextScope{Kind: domain.ScopeAll}},
		{"", domain.ContextScope{Kind: domain.ScopeAll}},
		{"none", domain.ContextScope{Kind: domain.ScopeNone}},
		{"last_n", domain.ContextScope{Kind: domain.ScopeLastN, LastN: domain.DefaultLastN}},
		{"last:3", domain.ContextScope{Kind: domain.ScopeLastN, LastN: 3}},
		{"LAST_N:7", domain.ContextScope{Kind: domain.ScopeLastN, LastN: 7}},
		{"roles: host, guest", domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"host", "guest"}}},
		{"last_message", domain.ContextScope{Kind: domain.ScopeLastN, LastN: 1}},
		{"last_round", domain.ContextScope{Kind: domain.ScopeLastN, LastN: 1}},
		{"last_n_messages", domain.ContextScope{Kind: domain.ScopeLastN, LastN: domain.DefaultLastN}},
		{"last_n_messages:2", domain.ContextScope{Kind: domain.ScopeLastN, LastN: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := flow.ParseScope(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"last:x", "last_n:0", "last:-2", "last_message:3", "roles:", "everything"} {
		_, err := flow.ParseScope(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodeSteps_RejectsZeroCount(t *testing.T) {
	_, err := flow.DecodeSteps([]any{
		map[string]any{"order": 1, "speaker": "a", "task_type": "say", "context_scope": map[string]any{"kind": "last_n", "last_n": 0}},
	})
	assert.ErrorContains(t, err, "invalid last_n count")

	_, err = flow.DecodeSteps([]any{
		map[string]any{"order": 1, "speaker": "a", "task_type": "say", "context_scope": "last_n:0"},
	})
	assert.ErrorContains(t, err, "invalid last_n count")

	steps, err := flow.DecodeSteps([]any{
		map[string]any{"order": 1, "speaker": "a", "task_type": "say", "context_scope": "last_message"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ContextScope{Kind: domain.ScopeLastN, LastN: 1}, steps[0].Scope)
}

func TestDecodeTemplate_FromYAML(t *testing.T) {
	src := `
id: debate
name: Debate
topic: Tabs or spaces
max_rounds: 12
steps:
  - order: 1
    speaker: moderator
    target: "@topic"
    task_type: open
    context_scope: all
  - order: 2
    speaker: pro
    target: moderator
    task_type: argue
    context_scope: last:2
  - order: 3
    speaker: con
    target: pro
    task_type: rebut
    context_scope: [pro, moderator]
    routing:
      next_step_order: 2
      max_loops: "3"
  - order: 4
    speaker: moderator
    task_type: conclude
    context_scope:
      kind: last_n
      last_n: 4
`
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(src), &raw))

	tpl, err := flow.DecodeTemplate(raw)
	require.NoError(t, err)
	require.NoError(t, flow.Validate(tpl))

	assert.Equal(t, "debate", tpl.ID)
	assert.Equal(t, 12, tpl.MaxRounds)
	require.Len(t, tpl.Steps, 4)
	assert.Equal(t, domain.TopicRef, tpl.Steps[0].TargetRef)
	assert.Equal(t, domain.ContextScope{Kind: domain.ScopeLastN, LastN: 2}, tpl.Steps[1].Scope)
	assert.Equal(t, domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"pro", "moderator"}}, tpl.Steps[2].Scope)
	require.NotNil(t, tpl.Steps[2].Routing)
	assert.Equal(t, 3, tpl.Steps[2].Routing.MaxLoops, "weakly typed input accepts quoted numbers")
	assert.Equal(t, domain.ContextScope{Kind: domain.ScopeLastN, LastN: 4}, tpl.Steps[3].Scope)
}

func TestDecodeSteps_RejectsUnknownKeys(t *testing.T) {
	_, err := flow.DecodeSteps([]any{
		map[string]any{"order": 1, "speaker": "a", "task_type": "x", "speeker": "typo"},
	})
	assert.Error(t, err)
}

func TestGenerateJSONSchema(t *testing.T) {
	data, err := flow.GenerateJSONSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Parley Flow Template v1", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "steps")
	assert.Contains(t, props, "topic")
}
