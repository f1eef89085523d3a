package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRepository_Contract(t *testing.T) {
	ports.RunSessionRepositoryContract(t, file.New(t.TempDir()))
}

func TestFileRepository_Layout(t *testing.T) {
	dir := t.TempDir()
	repo := file.New(dir)
	ctx := context.Background()

	s := &domain.Session{ID: "s1", Status: domain.StatusRunning}
	require.NoError(t, repo.Create(ctx, s))
	require.NoError(t, repo.AppendMessage(ctx, s, &domain.Message{ID: "m1", Content: "hello", Round: 1}))

	data, err := os.ReadFile(filepath.Join(dir, "s1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"hello"`)

	// Leftover temp files from a crashed write are not sessions.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp-s2-123.json"), []byte("{"), 0o644))
	ids, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, loaded.LoopCounters)
}

func TestFileRepository_RejectsPathIDs(t *testing.T) {
	repo := file.New(t.TempDir())
	ctx := context.Background()

	assert.Error(t, repo.Create(ctx, &domain.Session{ID: "../escape"}))
	assert.Error(t, repo.Create(ctx, &domain.Session{ID: ""}))
	_, err := repo.Load(ctx, "a/b")
	assert.Error(t, err)
}

func TestFileRepository_MissingDir(t *testing.T) {
	repo := file.New(filepath.Join(t.TempDir(), "nope"))
	ids, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
