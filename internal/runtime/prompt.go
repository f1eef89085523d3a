package runtime

import (
	"strings"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

// participant is a resolved speaker or target.
type participant struct {
	Ref    string
	RoleID string
	Name   string
	Prompt string
}

// castParticipant resolves a ref through the casting. The topic sentinel
// resolves to a pseudo participant without a role.
func castParticipant(s *domain.Session, ref string) (participant, bool) {
	if ref == domain.TopicRef {
		return participant{Ref: ref, Name: domain.TopicSpeaker}, true
	}
	role, ok := s.Casting[ref]
	if !ok {
		return participant{}, false
	}
	name := role.Name
	if name == "" {
		name = ref
	}
	return participant{Ref: ref, RoleID: role.ID, Name: name, Prompt: role.Prompt}, true
}

func buildPrompt(s *domain.Session, step domain.FlowStep, speaker participant, target *participant, entries []domain.ContextEntry) domain.Prompt {
	p := domain.Prompt{
		SessionID:    s.ID,
		SystemPrompt: speaker.Prompt,
		Speaker:      speaker.Name,
		TaskType:     step.TaskType,
		Description:  step.Description,
		Topic:        s.Topic,
		Round:        s.Round + 1,
		Context:      entries,
	}
	if target != nil {
		p.Target = target.Name
	}
	return p
}

func buildMessage(id string, s *domain.Session, step domain.FlowStep, speaker participant, target *participant, content string, replyTo string, now time.Time) *domain.Message {
	content = strings.TrimSpace(content)
	m := &domain.Message{
		ID:            id,
		SessionID:     s.ID,
		SpeakerRef:    speaker.Ref,
		SpeakerRoleID: speaker.RoleID,
		SpeakerName:   speaker.Name,
		Content:       content,
		Summary:       domain.Summarize(content),
		Round:         s.Round,
		StepOrder:     step.Order,
		TaskType:      step.TaskType,
		Section:       domain.SectionFor(step.TaskType),
		ReplyTo:       replyTo,
		CreatedAt:     now,
	}
	if target != nil {
		m.TargetRef = target.Ref
		m.TargetRoleID = target.RoleID
		m.TargetName = target.Name
	}
	return m
}
