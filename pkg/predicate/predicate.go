// Package predicate provides evaluators for step exit conditions.
//
// Conditions are free text on the template. Expr treats them as expr-lang
// expressions over the last message, Contains as a phrase to look for, and
// Judge asks a model. Chain combines them: the first evaluator that does not
// error decides.
package predicate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrNoMessage is returned when there is nothing to evaluate against.
var ErrNoMessage = errors.New("no message to evaluate")

// Expr evaluates conditions as expr-lang boolean expressions.
// Compiled programs are cached by source.
//
// Available variables: content, summary, speaker, speaker_role, target,
// target_role, round, step, task_type, section.
type Expr struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewExpr() *Expr {
	return &Expr{programs: make(map[string]*vm.Program)}
}

func env(m *domain.Message) map[string]any {
	return map[string]any{
		"content":      m.Content,
		"summary":      m.Summary,
		"speaker":      m.SpeakerName,
		"speaker_role": m.SpeakerRoleID,
		"target":       m.TargetName,
		"target_role":  m.TargetRoleID,
		"round":        m.Round,
		"step":         m.StepOrder,
		"task_type":    m.TaskType,
		"section":      m.Section,
	}
}

func (e *Expr) compile(condition string, data map[string]any) (*vm.Program, error) {
	e.mu.RLock()
	p, ok := e.programs[condition]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(condition, expr.Env(data), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile condition %q: %w", condition, err)
	}
	e.mu.Lock()
	e.programs[condition] = p
	e.mu.Unlock()
	return p, nil
}

// Evaluate implements ports.LoopPredicate.
func (e *Expr) Evaluate(_ context.Context, condition string, last *domain.Message) (bool, error) {
	if last == nil {
		return false, ErrNoMessage
	}
	condition = strings.TrimSpace(condition)
	data := env(last)
	program, err := e.compile(condition, data)
	if err != nil {
		return false, err
	}
	output, err := expr.Run(program, data)
	if err != nil {
		return false, fmt.Errorf("eval condition %q: %w", condition, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return bool (got %T)", condition, output)
	}
	return result, nil
}

// Contains holds when the last message mentions the condition, ignoring case.
type Contains struct{}

func (Contains) Evaluate(_ context.Context, condition string, last *domain.Message) (bool, error) {
	if last == nil {
		return false, ErrNoMessage
	}
	phrase := strings.ToLower(strings.TrimSpace(condition))
	if phrase == "" {
		return false, errors.New("empty condition")
	}
	return strings.Contains(strings.ToLower(last.Content), phrase), nil
}

// Judge asks a generator whether the last message satisfies the condition.
type Judge struct {
	Generator ports.Generator
}

const judgeInstructions = "You are a strict referee. Answer only YES or NO."

func (j Judge) Evaluate(ctx context.Context, condition string, last *domain.Message) (bool, error) {
	if last == nil {
		return false, ErrNoMessage
	}
	answer, err := j.Generator.Generate(ctx, domain.Prompt{
		SessionID:    last.SessionID,
		SystemPrompt: judgeInstructions,
		Speaker:      "referee",
		TaskType:     "judge",
		Description:  fmt.Sprintf("Does the last message satisfy this condition: %q?", condition),
		Round:        last.Round,
		Context: []domain.ContextEntry{{
			Speaker: last.SpeakerName,
			Target:  last.TargetName,
			Content: last.Content,
			Round:   last.Round,
		}},
	})
	if err != nil {
		return false, fmt.Errorf("judge: %w", err)
	}
	verdict := strings.ToUpper(strings.TrimSpace(answer))
	switch {
	case strings.HasPrefix(verdict, "YES"):
		return true, nil
	case strings.HasPrefix(verdict, "NO"):
		return false, nil
	}
	return false, fmt.Errorf("judge: unexpected verdict %q", answer)
}

// Chain tries each evaluator in turn and returns the first verdict reached
// without error. When all fail, their errors are joined.
type Chain []ports.LoopPredicate

func (c Chain) Evaluate(ctx context.Context, condition string, last *domain.Message) (bool, error) {
	var errs []error
	for _, p := range c {
		ok, err := p.Evaluate(ctx, condition, last)
		if err == nil {
			return ok, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return false, errors.New("no evaluator configured")
	}
	return false, errors.Join(errs...)
}

// Default is an expression evaluator that falls back to phrase matching.
func Default() ports.LoopPredicate {
	return Chain{NewExpr(), Contains{}}
}
