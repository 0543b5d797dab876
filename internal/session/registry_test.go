// ABOUTME: Tests for the session registry against a real sqlite store
// ABOUTME: Covers key validation, lifecycle, history, and export/import round-trips

package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ladle-sh/ladle/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRegistry(st, nil)
}

func TestValidateKey(t *testing.T) {
	valid := []string{"default", "work", "a", "my-session_2", "ABC-123"}
	for _, key := range valid {
		assert.NoError(t, ValidateKey(key), key)
	}

	invalid := []string{"", "my session!", "key/with/slash", "émoji", string(make([]byte, 65))}
	for _, key := range invalid {
		assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey, key)
	}
}

func TestRegistry_Create(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	info, err := reg.Create(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", info.Key)
	assert.Equal(t, 0, info.MessageCount)
	assert.False(t, info.CreatedAt.IsZero())

	_, err = reg.Create(ctx, "work")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistry_Create_InvalidKey(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create(context.Background(), "my session!")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.GetOrCreate(ctx, "scratch")
	require.NoError(t, err)

	require.NoError(t, reg.AppendMessage(ctx, "scratch", RoleUser, "hello"))

	second, err := reg.GetOrCreate(ctx, "scratch")
	require.NoError(t, err)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, 1, second.MessageCount)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_List(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "alpha")
	require.NoError(t, err)
	_, err = reg.Create(ctx, "beta")
	require.NoError(t, err)
	require.NoError(t, reg.AppendMessage(ctx, "beta", RoleUser, "hi"))

	infos, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byKey := map[string]int{}
	for _, info := range infos {
		byKey[info.Key] = info.MessageCount
	}
	assert.Equal(t, 0, byKey["alpha"])
	assert.Equal(t, 1, byKey["beta"])
}

func TestRegistry_Clear(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, reg.AppendMessage(ctx, "work", RoleUser, "one"))
	require.NoError(t, reg.AppendMessage(ctx, "work", RoleAssistant, "two"))

	removed, err := reg.Clear(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	info, err := reg.Get(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, 0, info.MessageCount)
}

func TestRegistry_Clear_NotFound(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Clear(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Delete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "doomed")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, "doomed"))
	assert.ErrorIs(t, reg.Delete(ctx, "doomed"), ErrNotFound)
}

func TestRegistry_History(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, reg.AppendMessage(ctx, "work", RoleUser, "question"))
	require.NoError(t, reg.AppendMessage(ctx, "work", RoleAssistant, "answer"))

	history, err := reg.History(ctx, "work")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, "question", history[0].Content)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestRegistry_ExportImport(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "origin")
	require.NoError(t, err)
	require.NoError(t, reg.AppendMessage(ctx, "origin", RoleUser, "hello"))
	require.NoError(t, reg.AppendMessage(ctx, "origin", RoleAssistant, "hi there"))

	export, err := reg.ExportSession(ctx, "origin")
	require.NoError(t, err)
	require.Len(t, export.Messages, 2)

	export.Key = "copy"
	info, err := reg.ImportSession(ctx, export)
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)

	history, err := reg.History(ctx, "copy")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
}

func TestRegistry_Import_ExistingKey(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "live")
	require.NoError(t, err)

	_, err = reg.ImportSession(ctx, &Export{Key: "live", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}
