// Package process implements a Generator that delegates each turn to a local
// command, such as a model CLI or a script.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// ErrEmptyReply is returned when the command exits cleanly without output.
var ErrEmptyReply = errors.New("process produced no output")

// Generator runs Command once per generation call.
//
// The prompt is written to stdin as JSON and its main fields are also exported
// as PARLEY_* environment variables. Stdout is the reply; a JSON object with a
// "content" field is unwrapped.
type Generator struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string
}

// Option configures the generator.
type Option func(*Generator)

// WithDir sets the working directory for the command.
func WithDir(dir string) Option {
	return func(g *Generator) { g.Dir = dir }
}

// WithEnv adds environment variables to every invocation.
func WithEnv(env map[string]string) Option {
	return func(g *Generator) {
		if g.Env == nil {
			g.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			g.Env[k] = v
		}
	}
}

// New creates a process generator for command and its fixed arguments.
func New(command string, args []string, opts ...Option) *Generator {
	g := &Generator{Command: command, Args: args}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements ports.Generator.
func (g *Generator) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	input, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.Command, g.Args...)
	cmd.Dir = g.Dir
	cmd.Stdin = bytes.NewReader(input)

	// Prompt fields travel as environment variables, never as flags.
	env := []string{
		"PARLEY_SESSION_ID=" + p.SessionID,
		"PARLEY_SPEAKER=" + p.Speaker,
		"PARLEY_TARGET=" + p.Target,
		"PARLEY_TASK_TYPE=" + p.TaskType,
		"PARLEY_TOPIC=" + p.Topic,
		"PARLEY_ROUND=" + strconv.Itoa(p.Round),
	}
	for k, v := range g.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = append(cmd.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%s failed: %w: %s", g.Command, err, strings.TrimSpace(stderr.String()))
	}

	return parseReply(stdout.String())
}

func parseReply(output string) (string, error) {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		var reply struct {
			Content *string `json:"content"`
		}
		if err := json.Unmarshal([]byte(trimmed), &reply); err == nil && reply.Content != nil {
			trimmed = strings.TrimSpace(*reply.Content)
		}
	}
	if trimmed == "" {
		return "", ErrEmptyReply
	}
	return trimmed, nil
}
