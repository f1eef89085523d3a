package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func sampleTranscript() (*domain.Session, []*domain.Message) {
	s := &domain.Session{ID: "s1", TemplateID: "debate", Topic: "Tabs or spaces?", Status: domain.StatusFinished, Round: 3}
	msgs := []*domain.Message{
		{SpeakerName: "Pro", Content: "Spaces.", Round: 1, TaskType: "opening", Section: "Opening"},
		{SpeakerName: "Con", TargetName: "Pro", Content: "Tabs.", Round: 2, TaskType: "rebuttal", Section: "Debate"},
		{SpeakerName: "Pro", TargetName: "Con", Content: "Fine.", Round: 3, TaskType: "response", Section: "Debate"},
	}
	return s, msgs
}

func TestMarkdown(t *testing.T) {
	s, msgs := sampleTranscript()
	md := Markdown(s, msgs)

	assert.True(t, strings.HasPrefix(md, "# Tabs or spaces?\n"))
	assert.Contains(t, md, "template `debate` · finished · round 3")
	assert.Contains(t, md, "## Opening")
	assert.Equal(t, 1, strings.Count(md, "## Debate"))
	assert.Contains(t, md, "**Con → Pro** · round 2 · rebuttal\n\nTabs.")
	assert.Less(t, strings.Index(md, "Spaces."), strings.Index(md, "Tabs."))
}

func TestMarkdown_FailureAndFallbackTitle(t *testing.T) {
	s := &domain.Session{ID: "s2", Status: domain.StatusFailed, FailureReason: "model offline"}
	md := Markdown(s, nil)
	assert.True(t, strings.HasPrefix(md, "# s2\n"))
	assert.Contains(t, md, "> model offline")
}

func TestEventLine(t *testing.T) {
	_, msgs := sampleTranscript()
	msgs[1].Summary = "Tabs."

	line := EventLine(&domain.Event{Type: domain.EventStepCompleted, Message: msgs[1]})
	assert.Contains(t, line, "Con → Pro")
	assert.Contains(t, line, "Tabs.")

	line = EventLine(&domain.Event{Type: domain.EventStatusChanged, PreviousStatus: domain.StatusRunning, Status: domain.StatusPaused})
	assert.Contains(t, line, "running → paused")

	line = EventLine(&domain.Event{Type: domain.EventGenerationFailed, Reason: "timeout"})
	assert.Contains(t, line, "generation failed: timeout")
}

func TestRendererAndBanner(t *testing.T) {
	render := NewRenderer(60)
	out, err := render("# Hello\n\nworld")
	assert.NoError(t, err)
	assert.Contains(t, out, "world")

	var buf bytes.Buffer
	PrintBanner(&buf)
	assert.Contains(t, buf.String(), "|___/")
}
