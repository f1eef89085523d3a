package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Mask replaces redacted text.
const Mask = "***"

// DefaultRedactionPatterns catches e-mail addresses and common API key shapes.
var DefaultRedactionPatterns = []string{
	`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
	`sk-[A-Za-z0-9_-]{16,}`,
}

type redactionMiddleware struct {
	next     ports.SessionRepository
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware masks text matching the patterns in generated
// messages before they are persisted. The message returned to the caller of
// Advance is not affected; only the stored transcript is.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.SessionRepository) ports.SessionRepository {
		return &redactionMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactionMiddleware) redact(s string) string {
	for _, p := range m.patterns {
		s = p.ReplaceAllString(s, Mask)
	}
	return s
}

func (m *redactionMiddleware) AppendMessage(ctx context.Context, s *domain.Session, msg *domain.Message) error {
	cp := *msg
	cp.Content = m.redact(msg.Content)
	cp.Summary = domain.Summarize(cp.Content)
	return m.next.AppendMessage(ctx, s, &cp)
}

func (m *redactionMiddleware) Create(ctx context.Context, s *domain.Session) error {
	return m.next.Create(ctx, s)
}

func (m *redactionMiddleware) Load(ctx context.Context, id string) (*domain.Session, error) {
	return m.next.Load(ctx, id)
}

func (m *redactionMiddleware) Update(ctx context.Context, s *domain.Session) error {
	return m.next.Update(ctx, s)
}

func (m *redactionMiddleware) Messages(ctx context.Context, id string) ([]*domain.Message, error) {
	return m.next.Messages(ctx, id)
}

func (m *redactionMiddleware) Delete(ctx context.Context, id string) error {
	return m.next.Delete(ctx, id)
}

func (m *redactionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
