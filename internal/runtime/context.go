package runtime

import "github.com/aretw0/parley/pkg/domain"

// ResolveContext selects the history handed to the generator for step.
// history must be in round order. The function never mutates its inputs.
//
// A roles scope matches messages by the refs their speaker and target were
// cast under, so two refs bound to the same role stay apart. Refs that are
// not cast are skipped. The first step of a session with no history gets
// the topic as its only entry.
func ResolveContext(history []*domain.Message, step domain.FlowStep, casting map[string]domain.Role, topic string) []domain.ContextEntry {
	if len(history) == 0 {
		if step.Order == 1 && topic != "" && step.Scope.Kind != domain.ScopeNone {
			return []domain.ContextEntry{{Speaker: domain.TopicSpeaker, Content: topic}}
		}
		return []domain.ContextEntry{}
	}

	var selected []*domain.Message
	switch step.Scope.Kind {
	case domain.ScopeNone:
		selected = nil
	case domain.ScopeLastN:
		n := step.Scope.LastN
		if n <= 0 {
			n = domain.DefaultLastN
		}
		if n > len(history) {
			n = len(history)
		}
		selected = history[len(history)-n:]
	case domain.ScopeRoles:
		refs := make(map[string]bool, len(step.Scope.Roles))
		for _, ref := range step.Scope.Roles {
			if _, ok := casting[ref]; ok && ref != "" {
				refs[ref] = true
			}
		}
		for _, m := range history {
			if refs[m.SpeakerRef] || refs[m.TargetRef] {
				selected = append(selected, m)
			}
		}
	default:
		selected = history
	}

	entries := make([]domain.ContextEntry, 0, len(selected))
	for _, m := range selected {
		entries = append(entries, domain.ContextEntry{
			Speaker: m.SpeakerName,
			Target:  m.TargetName,
			Content: m.Content,
			Round:   m.Round,
		})
	}
	return entries
}
