package statecache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgardenlabs.io/localsync/pkg/seal"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
)

func openTestCache(t *testing.T) (*StateCache, *shadowtree.Tree) {
	t.Helper()
	tree := shadowtree.New("/sync")
	cache, err := Open(context.Background(), t.TempDir(), "cache_test", seal.NopSealer{}, tree)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, tree
}

func TestStateCache_FlushPersistsRootChild(t *testing.T) {
	cache, tree := openTestCache(t)

	n := tree.NewNode(shadowtree.File)
	n.Init(tree.Root(), "/sync/a.txt")
	cache.Add(n)

	require.NoError(t, cache.Flush(context.Background()))
	assert.NotZero(t, n.Dbid())
	assert.Equal(t, 0, cache.PendingInserts())
}

func TestStateCache_FlushWaitsForParentDbid(t *testing.T) {
	cache, tree := openTestCache(t)

	dir := tree.NewNode(shadowtree.Folder)
	dir.Init(tree.Root(), "/sync/sub")
	file := tree.NewNode(shadowtree.File)
	file.Init(dir, "/sync/sub/f.txt")

	// Queue the child before the parent to exercise the multi-pass fixpoint.
	cache.Add(file)
	cache.Add(dir)

	require.NoError(t, cache.Flush(context.Background()))
	assert.NotZero(t, dir.Dbid())
	assert.NotZero(t, file.Dbid())
}

func TestStateCache_DelBeforeFlushCancelsInsert(t *testing.T) {
	cache, tree := openTestCache(t)

	n := tree.NewNode(shadowtree.File)
	n.Init(tree.Root(), "/sync/a.txt")
	cache.Add(n)
	cache.Del(n)

	require.NoError(t, cache.Flush(context.Background()))
	assert.Zero(t, n.Dbid())
}

func TestStateCache_DelAfterPersistQueuesDeletion(t *testing.T) {
	cache, tree := openTestCache(t)

	n := tree.NewNode(shadowtree.File)
	n.Init(tree.Root(), "/sync/a.txt")
	cache.Add(n)
	require.NoError(t, cache.Flush(context.Background()))
	require.NotZero(t, n.Dbid())

	cache.Del(n)
	require.NoError(t, cache.Flush(context.Background()))

	var count int
	row := cache.db.QueryRow("SELECT COUNT(*) FROM " + cache.table)
	require.NoError(t, row.Scan(&count))
	assert.Zero(t, count)
}

func TestStateCache_ReloadRebuildsTree(t *testing.T) {
	dir := t.TempDir()
	tree := shadowtree.New("/sync")
	cache, err := Open(context.Background(), dir, "cache_reload", seal.NopSealer{}, tree)
	require.NoError(t, err)

	folder := tree.NewNode(shadowtree.Folder)
	folder.Init(tree.Root(), "/sync/sub")
	file := tree.NewNode(shadowtree.File)
	file.Init(folder, "/sync/sub/f.txt")
	file.SetFsid(99)

	cache.Add(folder)
	cache.Add(file)
	require.NoError(t, cache.Flush(context.Background()))
	require.NoError(t, cache.Close())

	freshTree := shadowtree.New("/sync")
	reopened, err := Open(context.Background(), dir, "cache_reload", seal.NopSealer{}, freshTree)
	require.NoError(t, err)
	defer reopened.Close()

	attached, truncated, err := reopened.Reload(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attached)
	assert.Zero(t, truncated)

	gotFolder, ok := freshTree.Root().ChildByName("sub")
	require.True(t, ok)
	gotFile, ok := gotFolder.ChildByName("f.txt")
	require.True(t, ok)
	fsid, ok := gotFile.Fsid()
	require.True(t, ok)
	assert.EqualValues(t, 99, fsid)
}

func TestStateCache_ShouldFlushHonorsHighWaterMarkDuringInitialScan(t *testing.T) {
	cache, tree := openTestCache(t)

	assert.False(t, cache.ShouldFlush(false))

	n := tree.NewNode(shadowtree.File)
	n.Init(tree.Root(), "/sync/a.txt")
	cache.Add(n)

	assert.True(t, cache.ShouldFlush(true), "any pending work should flush while active")
	assert.False(t, cache.ShouldFlush(false), "a single pending insert shouldn't force a flush during initial scan")
}

func TestStateCache_SealerRoundTripsThroughStorage(t *testing.T) {
	dir := t.TempDir()
	tree := shadowtree.New("/sync")

	key := make([]byte, 32)
	sealer, err := seal.NewAESGCMSealer(key)
	require.NoError(t, err)

	cache, err := Open(context.Background(), dir, "cache_sealed", sealer, tree)
	require.NoError(t, err)

	n := tree.NewNode(shadowtree.File)
	n.Init(tree.Root(), "/sync/a.txt")
	cache.Add(n)
	require.NoError(t, cache.Flush(context.Background()))
	require.NoError(t, cache.Close())

	freshTree := shadowtree.New("/sync")
	reopened, err := Open(context.Background(), dir, "cache_sealed", sealer, freshTree)
	require.NoError(t, err)
	defer reopened.Close()

	attached, _, err := reopened.Reload(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, attached)
}

func TestTableName_DeterministicAndDistinctPerRoot(t *testing.T) {
	a := TableName(1, "remote-1", "user-1")
	b := TableName(1, "remote-1", "user-1")
	c := TableName(2, "remote-1", "user-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestOpen_CreatesCacheDirIfMissing(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "nested", "cache")
	tree := shadowtree.New("/sync")

	cache, err := Open(context.Background(), nested, "cache_nested", seal.NopSealer{}, tree)
	require.NoError(t, err)
	defer cache.Close()

	assert.FileExists(t, filepath.Join(nested, FileName))
}
