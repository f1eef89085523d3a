package flow

import (
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
)

// Validate checks that a template can be executed.
// Step orders must be unique and contiguous from 1, every step needs a speaker
// and a known scope, and jumps must land on an existing step. Backward jumps
// must be bounded by max_loops or by the template's max_rounds.
// All failures are reported at once.
func Validate(t *domain.Template) error {
	var errs []error
	add := func(key, reason string, value any) {
		errs = append(errs, &ValidationError{Key: key, Reason: reason, Value: value})
	}

	if t.ID == "" {
		add("id", "required", nil)
	}
	if len(t.Steps) == 0 {
		add("steps", "template has no steps", nil)
	}
	if t.MaxRounds < 0 {
		add("max_rounds", "must not be negative", t.MaxRounds)
	}

	seen := make(map[int]int)
	for i, s := range t.Steps {
		key := fmt.Sprintf("steps[%d]", i)
		if s.Order < 1 {
			add(key+".order", "must be >= 1", s.Order)
		} else if prev, dup := seen[s.Order]; dup {
			add(key+".order", fmt.Sprintf("duplicates steps[%d]", prev), s.Order)
		} else {
			seen[s.Order] = i
		}
		if s.Order >= 1 && s.Order != i+1 {
			add(key+".order", fmt.Sprintf("orders must be contiguous and sorted, expected %d", i+1), s.Order)
		}
		if s.SpeakerRef == "" {
			add(key+".speaker", "required", nil)
		}
		if s.SpeakerRef == domain.TopicRef {
			add(key+".speaker", "the topic cannot speak", s.SpeakerRef)
		}
		if s.TaskType == "" {
			add(key+".task_type", "required", nil)
		}
		errs = append(errs, validateScope(key+".context_scope", s.Scope)...)
		if r := s.Routing; r != nil {
			if r.MaxLoops < 0 {
				add(key+".routing.max_loops", "must not be negative", r.MaxLoops)
			}
			if r.NextStepOrder < 0 || r.NextStepOrder > len(t.Steps) {
				add(key+".routing.next_step_order", fmt.Sprintf("must reference a step between 1 and %d", len(t.Steps)), r.NextStepOrder)
			}
			// An exit condition may never be met, so only a counter bounds a loop.
			if r.NextStepOrder > 0 && r.NextStepOrder <= s.Order && r.MaxLoops == 0 && t.MaxRounds == 0 {
				add(key+".routing", "backward jump without max_loops or max_rounds never terminates", r.NextStepOrder)
			}
		}
	}

	if len(errs) > 0 {
		id := t.ID
		if id == "" {
			id = "<unnamed>"
		}
		return domain.NewError(domain.KindInvalidTemplate, fmt.Sprintf("template %s", id), &AggregateError{Errors: errs})
	}
	return nil
}

func validateScope(key string, sc domain.ContextScope) []error {
	var errs []error
	switch sc.Kind {
	case "", domain.ScopeAll, domain.ScopeNone:
	case domain.ScopeLastN:
		if sc.LastN < 0 {
			errs = append(errs, &ValidationError{Key: key + ".last_n", Reason: "must not be negative", Value: sc.LastN})
		}
	case domain.ScopeRoles:
		if len(sc.Roles) == 0 {
			errs = append(errs, &ValidationError{Key: key + ".roles", Reason: "roles scope needs at least one role"})
		}
	default:
		errs = append(errs, &ValidationError{Key: key + ".kind", Reason: "unknown scope", Value: sc.Kind})
	}
	return errs
}
