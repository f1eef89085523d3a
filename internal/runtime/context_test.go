package runtime

import (
	"fmt"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func history(n int) []*domain.Message {
	refs := []string{"A", "B"}
	speakers := []string{"alice", "bob"}
	out := make([]*domain.Message, n)
	for i := range out {
		sp := speakers[i%2]
		out[i] = &domain.Message{
			ID:            fmt.Sprintf("m%d", i+1),
			SpeakerRef:    refs[i%2],
			SpeakerRoleID: sp,
			SpeakerName:   sp,
			Content:       fmt.Sprintf("message %d", i+1),
			Round:         i + 1,
		}
	}
	return out
}

func TestResolveContext_Opening(t *testing.T) {
	step := domain.FlowStep{Order: 1, SpeakerRef: "a"}

	got := ResolveContext(nil, step, nil, "Is Go fun?")
	require.Len(t, got, 1)
	assert.Equal(t, domain.TopicSpeaker, got[0].Speaker)
	assert.Equal(t, "Is Go fun?", got[0].Content)

	assert.Empty(t, ResolveContext(nil, step, nil, ""))
	assert.NotNil(t, ResolveContext(nil, step, nil, ""))

	later := domain.FlowStep{Order: 2, SpeakerRef: "a"}
	assert.Empty(t, ResolveContext(nil, later, nil, "Is Go fun?"))

	silent := domain.FlowStep{Order: 1, Scope: domain.ContextScope{Kind: domain.ScopeNone}}
	assert.Empty(t, ResolveContext(nil, silent, nil, "Is Go fun?"))
}

func TestResolveContext_All(t *testing.T) {
	h := history(7)
	got := ResolveContext(h, domain.FlowStep{Order: 2}, nil, "topic")
	require.Len(t, got, 7)
	for i, e := range got {
		assert.Equal(t, i+1, e.Round)
	}
}

func TestResolveContext_LastN(t *testing.T) {
	h := history(7)

	step := domain.FlowStep{Order: 2, Scope: domain.ContextScope{Kind: domain.ScopeLastN, LastN: 3}}
	got := ResolveContext(h, step, nil, "")
	require.Len(t, got, 3)
	assert.Equal(t, []int{5, 6, 7}, []int{got[0].Round, got[1].Round, got[2].Round})

	step.Scope.LastN = 50
	assert.Len(t, ResolveContext(h, step, nil, ""), 7)

	step.Scope.LastN = 0
	assert.Len(t, ResolveContext(h, step, nil, ""), domain.DefaultLastN)
}

func TestResolveContext_Roles(t *testing.T) {
	h := history(6)
	h[1].TargetRef = "C"
	h[1].TargetRoleID = "carol"
	h[1].TargetName = "carol"
	casting := map[string]domain.Role{
		"A": {ID: "alice"},
		"B": {ID: "bob"},
		"C": {ID: "carol"},
	}

	step := domain.FlowStep{Order: 3, Scope: domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"A"}}}
	got := ResolveContext(h, step, casting, "")
	require.Len(t, got, 3)
	for _, e := range got {
		assert.Equal(t, "alice", e.Speaker)
	}

	// Addressed messages count as well.
	step.Scope.Roles = []string{"C"}
	got = ResolveContext(h, step, casting, "")
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Round)
	assert.Equal(t, "carol", got[0].Target)

	step.Scope.Roles = []string{"nobody"}
	assert.Empty(t, ResolveContext(h, step, casting, ""))

	// Refs that are not cast are skipped even when messages carry them.
	delete(casting, "B")
	step.Scope.Roles = []string{"B"}
	assert.Empty(t, ResolveContext(h, step, casting, ""))
}

func TestResolveContext_RolesWithoutIDs(t *testing.T) {
	casting := map[string]domain.Role{
		"A": {Name: "Alice"},
		"B": {Name: "Bob"},
		"C": {Name: "Carol"},
	}
	h := []*domain.Message{
		{SpeakerRef: "A", SpeakerName: "Alice", Content: "one", Round: 1},
		{SpeakerRef: "B", SpeakerName: "Bob", Content: "two", Round: 2},
		{SpeakerRef: "C", SpeakerName: "Carol", Content: "three", Round: 3},
	}

	step := domain.FlowStep{Order: 4, Scope: domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"A"}}}
	got := ResolveContext(h, step, casting, "")
	require.Len(t, got, 1)
	assert.Equal(t, "Alice", got[0].Speaker)
}

func TestResolveContext_RolesSharingARole(t *testing.T) {
	alice := domain.Role{ID: "alice", Name: "Alice"}
	casting := map[string]domain.Role{"A": alice, "C": alice}
	h := []*domain.Message{
		{SpeakerRef: "A", SpeakerRoleID: "alice", SpeakerName: "Alice", Content: "as A", Round: 1},
		{SpeakerRef: "C", SpeakerRoleID: "alice", SpeakerName: "Alice", Content: "as C", Round: 2},
	}

	step := domain.FlowStep{Order: 3, Scope: domain.ContextScope{Kind: domain.ScopeRoles, Roles: []string{"A"}}}
	got := ResolveContext(h, step, casting, "")
	require.Len(t, got, 1)
	assert.Equal(t, "as A", got[0].Content)
}

func TestResolveContext_None(t *testing.T) {
	step := domain.FlowStep{Order: 2, Scope: domain.ContextScope{Kind: domain.ScopeNone}}
	assert.Empty(t, ResolveContext(history(4), step, nil, "topic"))
}

func TestResolveContext_DoesNotMutate(t *testing.T) {
	h := history(4)
	step := domain.FlowStep{Order: 2, Scope: domain.ContextScope{Kind: domain.ScopeLastN, LastN: 2}}
	_ = ResolveContext(h, step, nil, "")
	assert.Equal(t, history(4), h)
}
