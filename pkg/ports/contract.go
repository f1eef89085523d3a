package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractSession(id string) *domain.Session {
	tpl := &domain.Template{
		ID:    "contract",
		Topic: "contract topic",
		Steps: []domain.FlowStep{
			{Order: 1, SpeakerRef: "host", TaskType: "open", Scope: domain.ContextScope{Kind: domain.ScopeAll}},
			{Order: 2, SpeakerRef: "guest", TargetRef: "host", TaskType: "answer", Scope: domain.ContextScope{Kind: domain.ScopeLastN, LastN: 2}, Routing: &domain.Routing{NextStepOrder: 1, MaxLoops: 3}},
		},
	}
	cast := map[string]domain.Role{
		"host":  {ID: "r-host", Name: "Host", Prompt: "You host."},
		"guest": {ID: "r-guest", Name: "Guest", Prompt: "You answer."},
	}
	return domain.NewSession(id, tpl, cast, "", time.Now().UTC().Truncate(time.Millisecond))
}

func contractMessage(s *domain.Session, round int) *domain.Message {
	return &domain.Message{
		ID:          fmt.Sprintf("%s-m%d", s.ID, round),
		SessionID:   s.ID,
		SpeakerRef:  "host",
		SpeakerName: "Host",
		Content:     fmt.Sprintf("message %d", round),
		Summary:     fmt.Sprintf("message %d", round),
		Round:       round,
		StepOrder:   1,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

// RunSessionRepositoryContract runs a suite of tests to verify that a SessionRepository
// implementation adheres to the defined interface contract.
func RunSessionRepositoryContract(t *testing.T, repo SessionRepository) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")

	t.Run("Create and Load", func(t *testing.T) {
		s := contractSession(prefix + "-create")
		s.LoopCounters[2] = 1
		require.NoError(t, repo.Create(ctx, s))

		loaded, err := repo.Load(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, loaded.ID)
		assert.Equal(t, domain.StatusNotStarted, loaded.Status)
		assert.Equal(t, "contract topic", loaded.Topic)
		assert.Equal(t, 1, loaded.LoopCounters[2])
		require.Len(t, loaded.Steps, 2)
		require.NotNil(t, loaded.Steps[1].Routing)
		assert.Equal(t, 3, loaded.Steps[1].Routing.MaxLoops)
		assert.Equal(t, "You answer.", loaded.Casting["guest"].Prompt)
	})

	t.Run("Create Duplicate", func(t *testing.T) {
		s := contractSession(prefix + "-dup")
		require.NoError(t, repo.Create(ctx, s))
		assert.Error(t, repo.Create(ctx, s))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := repo.Load(ctx, "non-existent-"+prefix)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, err = repo.Messages(ctx, "non-existent-"+prefix)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Loaded copies are isolated", func(t *testing.T) {
		s := contractSession(prefix + "-iso")
		require.NoError(t, repo.Create(ctx, s))

		loaded, err := repo.Load(ctx, s.ID)
		require.NoError(t, err)
		loaded.Pointer = 1
		loaded.LoopCounters[1] = 7

		again, err := repo.Load(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Pointer)
		assert.Zero(t, again.LoopCounters[1])
	})

	t.Run("Update", func(t *testing.T) {
		s := contractSession(prefix + "-update")
		require.NoError(t, repo.Create(ctx, s))

		s.Status = domain.StatusPaused
		require.NoError(t, repo.Update(ctx, s))

		loaded, err := repo.Load(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaused, loaded.Status)

		assert.ErrorIs(t, repo.Update(ctx, contractSession("non-existent-"+prefix)), domain.ErrSessionNotFound)
	})

	t.Run("AppendMessage", func(t *testing.T) {
		s := contractSession(prefix + "-append")
		require.NoError(t, repo.Create(ctx, s))

		for round := 1; round <= 3; round++ {
			s.Round = round
			s.Pointer = round % 2
			s.Status = domain.StatusRunning
			require.NoError(t, repo.AppendMessage(ctx, s, contractMessage(s, round)))
		}

		loaded, err := repo.Load(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, loaded.Round)
		assert.Equal(t, 1, loaded.Pointer)
		assert.Equal(t, domain.StatusRunning, loaded.Status)

		msgs, err := repo.Messages(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		for i, m := range msgs {
			assert.Equal(t, i+1, m.Round)
			assert.Equal(t, fmt.Sprintf("message %d", i+1), m.Content)
		}
	})

	t.Run("AppendMessage Unknown Session", func(t *testing.T) {
		s := contractSession("non-existent-append-" + prefix)
		err := repo.AppendMessage(ctx, s, contractMessage(s, 1))
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Concurrent Appends To Different Sessions", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s := contractSession(fmt.Sprintf("%s-par-%d", prefix, i))
				if !assert.NoError(t, repo.Create(ctx, s)) {
					return
				}
				s.Round = 1
				assert.NoError(t, repo.AppendMessage(ctx, s, contractMessage(s, 1)))
			}(i)
		}
		wg.Wait()

		for i := 0; i < 5; i++ {
			msgs, err := repo.Messages(ctx, fmt.Sprintf("%s-par-%d", prefix, i))
			require.NoError(t, err)
			assert.Len(t, msgs, 1)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := contractSession(prefix + "-delete")
		require.NoError(t, repo.Create(ctx, s))
		s.Round = 1
		require.NoError(t, repo.AppendMessage(ctx, s, contractMessage(s, 1)))

		require.NoError(t, repo.Delete(ctx, s.ID))

		_, err := repo.Load(ctx, s.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
		_, err = repo.Messages(ctx, s.ID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1 := prefix + "-list-1"
		id2 := prefix + "-list-2"
		require.NoError(t, repo.Create(ctx, contractSession(id1)))
		require.NoError(t, repo.Create(ctx, contractSession(id2)))
		defer func() {
			_ = repo.Delete(ctx, id1)
			_ = repo.Delete(ctx, id2)
		}()

		ids, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
