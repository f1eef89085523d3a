// Package file stores sessions as JSON documents on the local filesystem.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// DefaultPath is used when no base path is given.
var DefaultPath = filepath.Join(".parley", "sessions")

// record is the on-disk layout: the session and its transcript in one file,
// so a step is committed by a single atomic rename.
type record struct {
	Session  *domain.Session   `json:"session"`
	Messages []*domain.Message `json:"messages"`
}

// Repository implements ports.SessionRepository using the local filesystem.
// Writes from one process are serialized; cross-process writers need a
// distributed locker in front.
type Repository struct {
	BasePath string

	mu sync.Mutex
}

// New creates a Repository rooted at basePath.
func New(basePath string) *Repository {
	if basePath == "" {
		basePath = DefaultPath
	}
	return &Repository{BasePath: basePath}
}

func (r *Repository) path(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("session id cannot be empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(r.BasePath, id+".json"), nil
}

func (r *Repository) read(id string) (*record, error) {
	p, err := r.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session file: %w", err)
	}
	if rec.Session == nil {
		return nil, fmt.Errorf("session file %s has no session", p)
	}
	if rec.Session.LoopCounters == nil {
		rec.Session.LoopCounters = make(map[int]int)
	}
	return &rec, nil
}

// write persists a record atomically: temp file, fsync, rename.
func (r *Repository) write(id string, rec *record) error {
	destPath, err := r.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.BasePath, 0o755); err != nil {
		return fmt.Errorf("failed to ensure session directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Same directory, so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(r.BasePath, "tmp-"+id+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file to session file: %w", err)
	}
	return nil
}

// Create stores a new session; it fails if the ID is taken.
func (r *Repository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.path(s.ID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	return r.write(s.ID, &record{Session: s, Messages: []*domain.Message{}})
}

// Load retrieves a session.
func (r *Repository) Load(ctx context.Context, id string) (*domain.Session, error) {
	rec, err := r.read(id)
	if err != nil {
		return nil, err
	}
	return rec.Session, nil
}

// Update overwrites an existing session, keeping its transcript.
func (r *Repository) Update(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.read(s.ID)
	if err != nil {
		return err
	}
	rec.Session = s
	return r.write(s.ID, rec)
}

// AppendMessage commits the session and the message in one file write.
func (r *Repository) AppendMessage(ctx context.Context, s *domain.Session, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.read(s.ID)
	if err != nil {
		return err
	}
	rec.Session = s
	rec.Messages = append(rec.Messages, msg)
	return r.write(s.ID, rec)
}

// Messages returns the transcript in append order.
func (r *Repository) Messages(ctx context.Context, id string) ([]*domain.Message, error) {
	rec, err := r.read(id)
	if err != nil {
		return nil, err
	}
	if rec.Messages == nil {
		return []*domain.Message{}, nil
	}
	return rec.Messages, nil
}

// Delete removes the session file.
func (r *Repository) Delete(ctx context.Context, id string) error {
	p, err := r.path(id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns the stored session IDs, sorted.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.BasePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
