package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowRepo simulates latency to provoke lost updates if locking is missing.
type slowRepo struct {
	*memory.Repository
}

func (s slowRepo) Load(ctx context.Context, id string) (*domain.Session, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Repository.Load(ctx, id)
}

func seed(t *testing.T, repo ports.SessionRepository, id string) {
	t.Helper()
	tpl := &domain.Template{ID: "t", Steps: []domain.FlowStep{{Order: 1, SpeakerRef: "a", TaskType: "x"}}}
	require.NoError(t, repo.Create(context.Background(), domain.NewSession(id, tpl, nil, "", time.Now())))
}

func TestManager_MutateIsSerialized(t *testing.T) {
	repo := slowRepo{memory.NewRepository()}
	manager := session.NewManager(repo)
	ctx := context.Background()
	id := "race-test"
	seed(t, repo, id)

	var wg sync.WaitGroup
	writers := 10
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Mutate(ctx, id, func(s *domain.Session) error {
				s.Round++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, writers, s.Round, "every read-modify-write must observe the previous one")
}

func TestManager_MutateAbortDoesNotWrite(t *testing.T) {
	repo := memory.NewRepository()
	manager := session.NewManager(repo)
	ctx := context.Background()
	seed(t, repo, "s1")

	boom := errors.New("boom")
	_, err := manager.Mutate(ctx, "s1", func(s *domain.Session) error {
		s.Status = domain.StatusTerminated
		return boom
	})
	assert.ErrorIs(t, err, boom)

	s, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNotStarted, s.Status)
}

func TestManager_DeleteUnknown(t *testing.T) {
	manager := session.NewManager(memory.NewRepository())
	err := manager.Delete(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestManager_DifferentSessionsRunInParallel(t *testing.T) {
	manager := session.NewManager(memory.NewRepository())
	ctx := context.Background()

	var inside atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = manager.WithLock(ctx, id, func(ctx context.Context) error {
				n := inside.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}(id)
	}
	wg.Wait()
	assert.Greater(t, peak.Load(), int32(1))
}

// countingLocker records lock usage.
type countingLocker struct {
	locks, unlocks atomic.Int32
	ttl            time.Duration
}

func (l *countingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.locks.Add(1)
	l.ttl = ttl
	return func(context.Context) error {
		l.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &countingLocker{}
	manager := session.NewManager(memory.NewRepository(),
		session.WithLocker(locker),
		session.WithLockTTL(45*time.Second),
	)

	err := manager.WithLock(context.Background(), "s1", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, int32(1), locker.locks.Load())
	assert.Equal(t, int32(1), locker.unlocks.Load())
	assert.Equal(t, 45*time.Second, locker.ttl)
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	return nil, errors.New("redis down")
}

func TestManager_DistributedLockerFailure(t *testing.T) {
	manager := session.NewManager(memory.NewRepository(), session.WithLocker(failingLocker{}))
	called := false
	err := manager.WithLock(context.Background(), "s1", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
