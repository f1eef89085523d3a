package tui

import (
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/muesli/termenv"
)

// Markdown renders a session transcript as a markdown document with one
// heading per section change.
func Markdown(s *domain.Session, msgs []*domain.Message) string {
	var sb strings.Builder

	title := s.Topic
	if title == "" {
		title = s.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "_Session `%s` · template `%s` · %s · round %d_\n", s.ID, s.TemplateID, s.Status, s.Round)
	if s.FailureReason != "" {
		fmt.Fprintf(&sb, "\n> %s\n", s.FailureReason)
	}

	section := ""
	for _, m := range msgs {
		if m.Section != "" && m.Section != section {
			section = m.Section
			fmt.Fprintf(&sb, "\n## %s\n", section)
		}
		fmt.Fprintf(&sb, "\n**%s** · round %d", speakerLine(m), m.Round)
		if m.TaskType != "" {
			fmt.Fprintf(&sb, " · %s", m.TaskType)
		}
		fmt.Fprintf(&sb, "\n\n%s\n", m.Content)
	}
	return sb.String()
}

func speakerLine(m *domain.Message) string {
	if m.TargetName == "" {
		return m.SpeakerName
	}
	return m.SpeakerName + " → " + m.TargetName
}

// EventLine formats an engine event as a single colored terminal line.
func EventLine(ev *domain.Event) string {
	p := termenv.ColorProfile()
	switch ev.Type {
	case domain.EventStepCompleted:
		if ev.Message == nil {
			return fmt.Sprintf("round %d completed", ev.Round)
		}
		head := termenv.String(fmt.Sprintf("[%d] %s", ev.Message.Round, speakerLine(ev.Message))).Bold().Foreground(p.Color("#a78bfa"))
		return fmt.Sprintf("%s %s", head, ev.Message.Summary)
	case domain.EventStatusChanged:
		line := fmt.Sprintf("status %s → %s", ev.PreviousStatus, ev.Status)
		if ev.Reason != "" {
			line += ": " + ev.Reason
		}
		return termenv.String(line).Foreground(p.Color(StatusColor(ev.Status))).String()
	case domain.EventGenerationFailed:
		return termenv.String("generation failed: " + ev.Reason).Foreground(p.Color("#fb7185")).String()
	}
	return string(ev.Type)
}

// StatusColor returns the hex color used for a session status.
func StatusColor(s domain.Status) string {
	switch s {
	case domain.StatusRunning:
		return "#34d399"
	case domain.StatusPaused:
		return "#fbbf24"
	case domain.StatusFinished:
		return "#818cf8"
	case domain.StatusFailed:
		return "#fb7185"
	case domain.StatusTerminated:
		return "#9ca3af"
	}
	return "#e5e7eb"
}
