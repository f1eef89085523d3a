package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

type record struct {
	session  *domain.Session
	messages []*domain.Message
}

// Repository implements ports.SessionRepository in memory.
// Safe for concurrent use.
type Repository struct {
	data map[string]*record
	mu   sync.RWMutex
}

// NewRepository creates a new in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		data: make(map[string]*record),
	}
}

// Create stores a copy of the session.
func (r *Repository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	r.data[s.ID] = &record{session: s.Clone()}
	return nil
}

// Load returns a copy so callers can't mutate stored state by pointer.
func (r *Repository) Load(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return rec.session.Clone(), nil
}

// Update replaces the session record.
func (r *Repository) Update(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data[s.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	rec.session = s.Clone()
	return nil
}

// AppendMessage stores the message and the session under one write lock.
func (r *Repository) AppendMessage(ctx context.Context, s *domain.Session, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data[s.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	m := *msg
	rec.messages = append(rec.messages, &m)
	rec.session = s.Clone()
	return nil
}

// Messages returns copies of the transcript.
func (r *Repository) Messages(ctx context.Context, id string) ([]*domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.data[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	out := make([]*domain.Message, len(rec.messages))
	for i, m := range rec.messages {
		c := *m
		out[i] = &c
	}
	return out, nil
}

// Delete removes the session.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

// List returns stored session IDs, sorted.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
