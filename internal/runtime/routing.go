package runtime

import "github.com/aretw0/parley/pkg/domain"

// TransitionKind tags the outcome of routing a step.
type TransitionKind int

const (
	Continue  TransitionKind = iota // Fall through to the next order
	JumpTo                          // Explicit jump (forward or backward)
	Terminate                       // No further step
)

func (k TransitionKind) String() string {
	switch k {
	case Continue:
		return "continue"
	case JumpTo:
		return "jump"
	case Terminate:
		return "terminate"
	}
	return "unknown"
}

// Transition is computed once per executed step.
type Transition struct {
	Kind TransitionKind

	// Order is the target step order; zero when Kind is Terminate.
	Order int

	// LoopCount is the execution count of the step including this run.
	LoopCount int

	// LoopExited is set when the cap or the exit condition ended a loop.
	LoopExited bool

	// Overflow is set when a jump named an order outside 1..N.
	Overflow bool
}

// Route decides where execution goes after step ran. counters is updated in place:
// the step's counter is incremented, and cleared when its loop exits.
//
// exitMet carries the verdict of the step's exit condition; it exits the loop
// exactly like reaching max_loops. When the loop exits the jump is ignored and
// execution falls through to the next order. Past the last order the flow terminates.
func Route(step domain.FlowStep, counters map[int]int, stepCount int, exitMet bool) Transition {
	counters[step.Order]++
	tr := Transition{LoopCount: counters[step.Order]}

	target := step.Order + 1
	jumped := false
	if r := step.Routing; r != nil {
		switch {
		case exitMet || (r.MaxLoops > 0 && tr.LoopCount >= r.MaxLoops):
			delete(counters, step.Order)
			tr.LoopExited = true
		case r.NextStepOrder > 0:
			target = r.NextStepOrder
			jumped = true
		}
	}

	if target < 1 || target > stepCount {
		tr.Kind = Terminate
		tr.Overflow = jumped
		return tr
	}

	tr.Order = target
	if jumped {
		tr.Kind = JumpTo
	} else {
		tr.Kind = Continue
	}
	return tr
}

// isLoopStep reports whether a step is governed by a loop bound.
func isLoopStep(step domain.FlowStep) bool {
	return step.Routing != nil && (step.Routing.MaxLoops > 0 || step.Routing.ExitCondition != "")
}
