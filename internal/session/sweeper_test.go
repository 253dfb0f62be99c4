package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createAgedSession(t *testing.T, store *Store, id string, age time.Duration) {
	t.Helper()
	path, err := store.Create(id)
	require.NoError(t, err)
	meta := newTestMeta(id, path)
	meta.CreatedAt = time.Now().Add(-age)
	require.NoError(t, store.Save(id, meta))
}

// TestSweeperRemovesExpired 超过保留窗口的会话被删除，未超过的保留
func TestSweeperRemovesExpired(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	createAgedSession(t, store, "old", 25*time.Hour)
	createAgedSession(t, store, "fresh", 1*time.Hour)

	sweeper := NewSweeper(store, 24*time.Hour)
	removed := sweeper.Sweep()
	assert.Equal(t, 1, removed)

	_, err = store.Load("old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Load("fresh")
	assert.NoError(t, err)
}

// TestSweeperCorruptMetadata 元数据损坏的目录按修改时间判定年龄
func TestSweeperCorruptMetadata(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// 只有目录，没有metadata.json，刚创建所以未过期
	_, err = store.Create("broken")
	require.NoError(t, err)

	sweeper := NewSweeper(store, 24*time.Hour)
	assert.Equal(t, 0, sweeper.Sweep())

	ids, err := store.List()
	require.NoError(t, err)
	assert.Contains(t, ids, "broken")
}

// TestSweeperRetentionBoundary 恰好等于保留窗口的会话不删除
func TestSweeperRetentionBoundary(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	createAgedSession(t, store, "edge", 24*time.Hour-time.Minute)

	sweeper := NewSweeper(store, 24*time.Hour)
	assert.Equal(t, 0, sweeper.Sweep())
}
