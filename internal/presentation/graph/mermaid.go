package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// GraphOverlay contains session progress to highlight on the graph.
type GraphOverlay struct {
	VisitedSteps []int
	CurrentStep  int // 0 when the session is not positioned on a step
	Finished     bool
}

// GenerateMermaid produces a Mermaid flowchart of a step flow.
// Steps are rectangles, the topic opener is a circle and the end is a
// double circle. Jumps are dotted and labelled with their loop guard.
func GenerateMermaid(steps []domain.FlowStep, overlay *GraphOverlay) string {
	ordered := make([]domain.FlowStep, len(steps))
	copy(ordered, steps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	sb.WriteString("    topic((\"topic\"))\n")
	if len(ordered) > 0 {
		sb.WriteString(fmt.Sprintf("    topic --> %s\n", stepID(ordered[0].Order)))
	}

	for i, step := range ordered {
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", stepID(step.Order), escape(stepLabel(step))))

		next := "finish"
		if i+1 < len(ordered) {
			next = stepID(ordered[i+1].Order)
		}

		r := step.Routing
		if r == nil || r.NextStepOrder == 0 {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", stepID(step.Order), next))
			continue
		}

		sb.WriteString(fmt.Sprintf("    %s -. \"%s\" .-> %s\n", stepID(step.Order), escape(guardLabel(r)), stepID(r.NextStepOrder)))
		if r.MaxLoops > 0 || r.ExitCondition != "" {
			sb.WriteString(fmt.Sprintf("    %s -- \"exit\" --> %s\n", stepID(step.Order), next))
		}
	}
	sb.WriteString("    finish(((\"end\")))\n")

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[int]bool)
		for _, order := range overlay.VisitedSteps {
			if order < 1 || seen[order] {
				continue
			}
			seen[order] = true
			sb.WriteString(fmt.Sprintf("    class %s visited;\n", stepID(order)))
		}
		switch {
		case overlay.Finished:
			sb.WriteString("    class finish current;\n")
		case overlay.CurrentStep > 0:
			sb.WriteString(fmt.Sprintf("    class %s current;\n", stepID(overlay.CurrentStep)))
		}
	}

	return sb.String()
}

func stepID(order int) string {
	return fmt.Sprintf("s%d", order)
}

func stepLabel(step domain.FlowStep) string {
	label := fmt.Sprintf("%d. %s", step.Order, step.SpeakerRef)
	if step.HasTarget() {
		label += " → " + step.TargetRef
	}
	if step.TaskType != "" {
		label += ": " + step.TaskType
	}
	return label
}

func guardLabel(r *domain.Routing) string {
	var parts []string
	if r.MaxLoops > 0 {
		parts = append(parts, fmt.Sprintf("max %d", r.MaxLoops))
	}
	if r.ExitCondition != "" {
		parts = append(parts, "until "+r.ExitCondition)
	}
	if len(parts) == 0 {
		return "jump"
	}
	return strings.Join(parts, ", ")
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
