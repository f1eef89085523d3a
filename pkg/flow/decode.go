package flow

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

var scopeType = reflect.TypeOf(domain.ContextScope{})

// DecodeTemplate converts a loosely typed document (YAML, front matter) into a template.
// Context scopes accept shorthand forms, see ParseScope.
func DecodeTemplate(raw map[string]any) (*domain.Template, error) {
	var t domain.Template
	if err := decode(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode template: %w", err)
	}
	return &t, nil
}

// DecodeSteps converts a list of raw step definitions.
func DecodeSteps(raw []any) ([]domain.FlowStep, error) {
	steps := make([]domain.FlowStep, 0, len(raw))
	for i, item := range raw {
		var s domain.FlowStep
		if err := decode(item, &s); err != nil {
			return nil, fmt.Errorf("failed to decode steps[%d]: %w", i, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func decode(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       scopeHook,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func scopeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != scopeType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		sc, err := ParseScope(v)
		if err != nil {
			return nil, err
		}
		return scopeToMap(sc), nil
	case map[string]any:
		if raw, ok := v["last_n"]; ok {
			if _, err := parseCount(fmt.Sprint(raw)); err != nil {
				return nil, err
			}
		}
	case []any:
		roles := make([]any, len(v))
		copy(roles, v)
		return map[string]any{"kind": string(domain.ScopeRoles), "roles": roles}, nil
	case []string:
		roles := make([]any, len(v))
		for i, r := range v {
			roles[i] = r
		}
		return map[string]any{"kind": string(domain.ScopeRoles), "roles": roles}, nil
	}
	return data, nil
}

func scopeToMap(sc domain.ContextScope) map[string]any {
	m := map[string]any{"kind": string(sc.Kind)}
	if sc.LastN > 0 {
		m["last_n"] = sc.LastN
	}
	if len(sc.Roles) > 0 {
		roles := make([]any, len(sc.Roles))
		for i, r := range sc.Roles {
			roles[i] = r
		}
		m["roles"] = roles
	}
	return m
}

// ParseScope reads the shorthand scope notation:
//
//	all | none | last_n | last_n:3 | last:3 | roles:moderator,critic
//
// The older names last_message, last_round (both one message, as every
// round holds a single message) and last_n_messages are accepted too.
// A count must be at least 1; use none for an empty context.
func ParseScope(s string) (domain.ContextScope, error) {
	s = strings.TrimSpace(s)
	name, arg, hasArg := strings.Cut(s, ":")
	switch domain.ScopeKind(strings.ToLower(name)) {
	case "", domain.ScopeAll:
		return domain.ContextScope{Kind: domain.ScopeAll}, nil
	case domain.ScopeNone:
		return domain.ContextScope{Kind: domain.ScopeNone}, nil
	case "last_message", "last_round":
		if hasArg {
			return domain.ContextScope{}, fmt.Errorf("scope %q takes no count", name)
		}
		return domain.ContextScope{Kind: domain.ScopeLastN, LastN: 1}, nil
	case domain.ScopeLastN, "last", "last_n_messages":
		n := domain.DefaultLastN
		if hasArg {
			parsed, err := parseCount(arg)
			if err != nil {
				return domain.ContextScope{}, err
			}
			n = parsed
		}
		return domain.ContextScope{Kind: domain.ScopeLastN, LastN: n}, nil
	case domain.ScopeRoles:
		var roles []string
		for _, r := range strings.Split(arg, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		if len(roles) == 0 {
			return domain.ContextScope{}, fmt.Errorf("roles scope %q names no role", s)
		}
		return domain.ContextScope{Kind: domain.ScopeRoles, Roles: roles}, nil
	}
	return domain.ContextScope{}, fmt.Errorf("unknown context scope %q", s)
}

func parseCount(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid last_n count %q: must be a whole number >= 1", arg)
	}
	return n, nil
}
