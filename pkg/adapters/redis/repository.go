package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the adapter.
const DefaultPrefix = "parley:"

// farFuture is the index score of sessions without a TTL (2100-01-01).
const farFuture = 4102444800

// appendScript writes the session and pushes the message only if the session
// still exists, so a step commits whole or not at all.
var appendScript = backend.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
redis.call("RPUSH", KEYS[2], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call("PEXPIRE", KEYS[1], ttl)
	redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`)

// Repository implements ports.SessionRepository using Redis.
// A session is a JSON string, its transcript a list of JSON messages, and a
// ZSET indexes session IDs by expiry for listing.
type Repository struct {
	client backend.UniversalClient
	prefix string
	ttl    time.Duration
}

type Option func(*Repository)

// WithTTL sets the expiration for sessions and their transcripts.
func WithTTL(ttl time.Duration) Option {
	return func(r *Repository) {
		r.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Repository) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// New creates a Redis repository from a redis:// URL.
func New(url string, opts ...Option) (*Repository, error) {
	o, err := backend.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewFromClient(backend.NewClient(o), opts...), nil
}

// NewFromClient creates a Redis repository from an existing client.
func NewFromClient(client backend.UniversalClient, opts ...Option) *Repository {
	r := &Repository{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Client exposes the underlying client so lockers and publishers can share it.
func (r *Repository) Client() backend.UniversalClient {
	return r.client
}

func (r *Repository) sessionKey(id string) string {
	return r.prefix + "session:" + id
}

func (r *Repository) messagesKey(id string) string {
	return r.prefix + "messages:" + id
}

func (r *Repository) indexKey() string {
	return r.prefix + "index"
}

func (r *Repository) score() float64 {
	if r.ttl == 0 {
		return farFuture
	}
	return float64(time.Now().Add(r.ttl).Unix())
}

// Create stores a new session; it fails if the ID is taken.
func (r *Repository) Create(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}

	if err := r.client.ZAdd(ctx, r.indexKey(), backend.Z{Score: r.score(), Member: s.ID}).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// Load retrieves a session.
func (r *Repository) Load(ctx context.Context, id string) (*domain.Session, error) {
	val, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.LoopCounters == nil {
		s.LoopCounters = make(map[int]int)
	}
	return &s, nil
}

// Update overwrites an existing session.
func (r *Repository) Update(ctx context.Context, s *domain.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetXX(ctx, r.sessionKey(s.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	return r.touch(ctx, s.ID)
}

// AppendMessage commits the session and the new message in one script.
func (r *Repository) AppendMessage(ctx context.Context, s *domain.Session, msg *domain.Message) error {
	sessionData, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	msgData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	keys := []string{r.sessionKey(s.ID), r.messagesKey(s.ID)}
	res, err := appendScript.Run(ctx, r.client, keys, sessionData, msgData, r.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if res == 0 {
		return domain.ErrSessionNotFound
	}
	return r.touch(ctx, s.ID)
}

func (r *Repository) touch(ctx context.Context, id string) error {
	if r.ttl == 0 {
		return nil
	}
	if err := r.client.ZAdd(ctx, r.indexKey(), backend.Z{Score: r.score(), Member: id}).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

// Messages returns the transcript in append order.
func (r *Repository) Messages(ctx context.Context, id string) ([]*domain.Message, error) {
	pipe := r.client.Pipeline()
	exists := pipe.Exists(ctx, r.sessionKey(id))
	items := pipe.LRange(ctx, r.messagesKey(id), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	if exists.Val() == 0 {
		return nil, domain.ErrSessionNotFound
	}

	out := make([]*domain.Message, 0, len(items.Val()))
	for _, raw := range items.Val() {
		var m domain.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

// Delete removes the session, its transcript and its index entry.
func (r *Repository) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id), r.messagesKey(id))
	pipe.ZRem(ctx, r.indexKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns live session IDs, pruning expired index entries first.
func (r *Repository) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := r.client.ZRemRangeByScore(ctx, r.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired sessions: %w", err)
	}

	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

// Close closes the redis client.
func (r *Repository) Close() error {
	return r.client.Close()
}
