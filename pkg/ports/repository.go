package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// SessionRepository persists sessions and their append-only transcripts.
type SessionRepository interface {
	// Create stores a new session. It fails if the ID already exists.
	Create(ctx context.Context, session *domain.Session) error

	// Load retrieves a session.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Update overwrites the session record without touching its transcript.
	Update(ctx context.Context, session *domain.Session) error

	// AppendMessage stores msg and the updated session as one atomic unit:
	// either both are visible afterwards or neither is.
	AppendMessage(ctx context.Context, session *domain.Session, msg *domain.Message) error

	// Messages returns the transcript in round order.
	Messages(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// Delete removes the session and its transcript.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of stored sessions.
	List(ctx context.Context) ([]string, error)
}
