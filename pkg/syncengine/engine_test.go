package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelgardenlabs.io/localsync/pkg/debris"
	"pixelgardenlabs.io/localsync/pkg/fsadapter"
	"pixelgardenlabs.io/localsync/pkg/notify"
	"pixelgardenlabs.io/localsync/pkg/seal"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
	"pixelgardenlabs.io/localsync/pkg/statecache"
)

const testRoot = "/r"

// spyRemote is the minimal RemoteRef the tests bind nodes to, so
// "parent has a remoteRef" checks in checkPath pass for non-root parents.
type spyRemote struct{ handle string }

func (s spyRemote) Handle() string { return s.handle }

// spyCallbacks records every callback invocation, in order, as a single
// tagged log so tests can assert both occurrence and relative ordering
// without depending on a specific sibling-scan order.
type spyCallbacks struct {
	mu  sync.Mutex
	log []string
}

func (s *spyCallbacks) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, fmt.Sprintf(format, args...))
}

func (s *spyCallbacks) SyncUpdateState(newState State) { s.record("state:%s", newState) }
func (s *spyCallbacks) SyncUpdateLocalFolderAddition(n *shadowtree.Node, displayPath string) {
	// A real coordinator creates the remote folder and binds the result here;
	// stand in with a handle derived from the path so descendants aren't
	// stuck behind the parent-missing gate for the rest of the test.
	n.SetRemoteRef(spyRemote{handle: displayPath})
	s.record("folderAdd:%s", displayPath)
}
func (s *spyCallbacks) SyncUpdateLocalFileAddition(n *shadowtree.Node, displayPath string) {
	s.record("fileAdd:%s", displayPath)
}
func (s *spyCallbacks) SyncUpdateLocalFileChange(n *shadowtree.Node, displayPath string) {
	s.record("fileChange:%s", displayPath)
}
func (s *spyCallbacks) SyncUpdateLocalMove(n *shadowtree.Node, displayPath string) {
	s.record("move:%s", displayPath)
}
func (s *spyCallbacks) SyncSyncable(name, parentPath, localName string) bool { return true }

func (s *spyCallbacks) indexOf(entry string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.log {
		if e == entry {
			return i
		}
	}
	return -1
}

func (s *spyCallbacks) contains(entry string) bool { return s.indexOf(entry) >= 0 }

// stubAdapter is a hand-controlled Adapter for scenarios that need exact
// control over fsid, size, mtime and transient-failure sequencing that
// afero's MemMapFs semantics don't expose directly (rename-over-existing,
// retry-then-succeed).
type stubAdapter struct {
	mu      sync.Mutex
	stats   map[string]fsadapter.Info
	dirs    map[string][]string
	samples map[string][]byte
	failN   map[string]int // remaining transient failures before success
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{
		stats:   make(map[string]fsadapter.Info),
		dirs:    make(map[string][]string),
		samples: make(map[string][]byte),
		failN:   make(map[string]int),
	}
}

func (a *stubAdapter) setDir(path string, children ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirs[path] = children
}

func (a *stubAdapter) setFile(path string, fsid fsadapter.Fsid, size int64, mtime time.Time, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats[path] = fsadapter.Info{Fsid: fsid, Size: size, ModTime: mtime}
	a.samples[path] = data
}

func (a *stubAdapter) setDirStat(path string, fsid fsadapter.Fsid) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats[path] = fsadapter.Info{Fsid: fsid, IsDir: true}
}

func (a *stubAdapter) remove(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.stats, path)
}

func (a *stubAdapter) failNext(path string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failN[path] = n
}

func (a *stubAdapter) Lstat(path string) (fsadapter.Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := a.failN[path]; n > 0 {
		a.failN[path] = n - 1
		return fsadapter.Info{}, fmt.Errorf("stub: transient failure for %s", path)
	}

	info, ok := a.stats[path]
	if !ok {
		return fsadapter.Info{}, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return info, nil
}

func (a *stubAdapter) ReadDirNames(path string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.dirs[path]...), nil
}

func (a *stubAdapter) ReadSample(path string, buf []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data := a.samples[path]
	n := copy(buf, data)
	return n, nil
}

func (a *stubAdapter) Readlink(path string) (string, error) {
	return "", fmt.Errorf("stub: readlink unsupported")
}

var _ fsadapter.Adapter = (*stubAdapter)(nil)

type testEngine struct {
	engine *Engine
	tree   *shadowtree.Tree
	cache  *statecache.StateCache
	spy    *spyCallbacks
}

func newTestEngine(t *testing.T, fs fsadapter.Adapter) *testEngine {
	t.Helper()
	tree := shadowtree.New(testRoot)
	cache, err := statecache.Open(context.Background(), t.TempDir(), "engine_test", seal.NopSealer{}, tree)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	spy := &spyCallbacks{}
	vault := &debris.Vault{Root: testRoot, FolderName: ".debris"}
	notifier := notify.New()

	opts := Options{RootPath: testRoot}
	eng := New(opts, spy, fs, tree, cache, notifier, vault)

	return &testEngine{engine: eng, tree: tree, cache: cache, spy: spy}
}

func TestEngine_ColdStartEmptyRoot(t *testing.T) {
	fs := newStubAdapter()
	fs.setDirStat(testRoot, 1)
	fs.setDir(testRoot)

	te := newTestEngine(t, fs)
	require.NoError(t, te.engine.Run(context.Background()))

	assert.Equal(t, Active, te.engine.State())
	assert.True(t, te.spy.contains("state:active"))
	assert.Equal(t, 0, te.cache.PendingInserts())
	for _, e := range te.spy.log {
		assert.NotContains(t, e, "Add")
	}
}

func TestEngine_AddTwoFiles(t *testing.T) {
	fs := newStubAdapter()
	fs.setDirStat(testRoot, 1)
	fs.setDir(testRoot, "a.txt", "sub")
	fs.setFile(filepath.Join(testRoot, "a.txt"), 2, 10, time.Unix(1000, 0), []byte("0123456789"))
	fs.setDirStat(filepath.Join(testRoot, "sub"), 3)
	fs.setDir(filepath.Join(testRoot, "sub"), "b.txt")
	fs.setFile(filepath.Join(testRoot, "sub", "b.txt"), 4, 20, time.Unix(2000, 0), []byte("01234567890123456789"))

	te := newTestEngine(t, fs)
	require.NoError(t, te.engine.Run(context.Background()))

	assert.True(t, te.spy.contains("folderAdd:sub"))
	assert.True(t, te.spy.contains("fileAdd:a.txt"))
	assert.True(t, te.spy.contains("fileAdd:sub/b.txt"))

	folderIdx := te.spy.indexOf("folderAdd:sub")
	childIdx := te.spy.indexOf("fileAdd:sub/b.txt")
	assert.Less(t, folderIdx, childIdx, "folder must be added before its own child")

	require.NoError(t, te.cache.Flush(context.Background()))
	assert.Equal(t, 0, te.cache.PendingInserts())
}

func TestEngine_RenameWithinRootPreservesIdentity(t *testing.T) {
	fs := newStubAdapter()
	aPath := filepath.Join(testRoot, "a.txt")
	cPath := filepath.Join(testRoot, "c.txt")

	fs.setDirStat(testRoot, 1)
	fs.setDir(testRoot, "a.txt")
	fs.setFile(aPath, 42, 10, time.Unix(1000, 0), []byte("0123456789"))

	te := newTestEngine(t, fs)
	require.NoError(t, te.engine.Run(context.Background()))
	require.NoError(t, te.cache.Flush(context.Background()))

	node, ok := te.tree.Root().ChildByName("a.txt")
	require.True(t, ok)
	dbid := node.Dbid()
	require.NotZero(t, dbid)

	// Simulate the OS rename: same fsid now observed at c.txt, a.txt gone.
	fs.remove(aPath)
	fs.setDir(testRoot, "c.txt")
	fs.setFile(cPath, 42, 10, time.Unix(1000, 0), []byte("0123456789"))

	outcome, err := te.engine.checkPath(nil, cPath, "")
	require.NoError(t, err)
	assert.Equal(t, outcomeMove, outcome.Kind)
	assert.Equal(t, dbid, outcome.Node.Dbid())
	assert.Equal(t, "c.txt", outcome.Node.LocalName())

	assert.True(t, te.spy.contains("move:c.txt"))
	assert.False(t, te.spy.contains("fileAdd:c.txt"))
}

func TestEngine_OverwriteByMove(t *testing.T) {
	fs := newStubAdapter()
	xPath := filepath.Join(testRoot, "x")
	yPath := filepath.Join(testRoot, "y")

	fs.setDirStat(testRoot, 1)
	fs.setDir(testRoot, "x", "y")
	fs.setFile(xPath, 100, 3, time.Unix(500, 0), []byte("abc"))
	fs.setFile(yPath, 200, 5, time.Unix(600, 0), []byte("hello"))

	te := newTestEngine(t, fs)
	require.NoError(t, te.engine.Run(context.Background()))
	require.NoError(t, te.cache.Flush(context.Background()))

	_, xExisted := te.tree.Root().ChildByName("x")
	require.True(t, xExisted)
	yNode, ok := te.tree.Root().ChildByName("y")
	require.True(t, ok)
	yDbid := yNode.Dbid()

	// Simulate "rename y over x": x's fsid now resolves to what used to be y.
	fs.setDir(testRoot, "x")
	fs.setFile(xPath, 200, 5, time.Unix(600, 0), []byte("hello"))

	outcome, err := te.engine.checkPath(nil, xPath, "")
	require.NoError(t, err)
	assert.Equal(t, outcomeMove, outcome.Kind)
	assert.Equal(t, yDbid, outcome.Node.Dbid())

	survivor, ok := te.tree.LookupFsid(200)
	require.True(t, ok)
	assert.Equal(t, outcome.Node, survivor)
	_, stillHasI1 := te.tree.LookupFsid(100)
	assert.False(t, stillHasI1)

	assert.True(t, te.spy.contains("move:x"))
}

func TestEngine_TransientStatFailureThenSucceeds(t *testing.T) {
	fs := newStubAdapter()
	zPath := filepath.Join(testRoot, "z")

	fs.setDirStat(testRoot, 1)
	fs.setDir(testRoot)
	fs.setFile(zPath, 5, 4, time.Unix(700, 0), []byte("data"))
	fs.failNext(zPath, 2)

	te := newTestEngine(t, fs)

	_, err1 := te.engine.checkPath(nil, zPath, "")
	require.Error(t, err1)
	assert.True(t, IsRetryable(err1))

	_, err2 := te.engine.checkPath(nil, zPath, "")
	require.Error(t, err2)
	assert.True(t, IsRetryable(err2))

	outcome, err3 := te.engine.checkPath(nil, zPath, "")
	require.NoError(t, err3)
	assert.Equal(t, outcomeNewFile, outcome.Kind)
	assert.True(t, te.spy.contains("fileAdd:z"))

	_, ok := te.tree.Root().ChildByName("z")
	assert.True(t, ok)
}

func TestEngine_RestartWithCacheSkipsRefingerprint(t *testing.T) {
	fs := newStubAdapter()
	aPath := filepath.Join(testRoot, "a.txt")

	fs.setDirStat(testRoot, 1)
	fs.setDir(testRoot, "a.txt")
	fs.setFile(aPath, 42, 10, time.Unix(1000, 0), []byte("0123456789"))

	cacheDir := t.TempDir()

	tree1 := shadowtree.New(testRoot)
	cache1, err := statecache.Open(context.Background(), cacheDir, "restart_test", seal.NopSealer{}, tree1)
	require.NoError(t, err)

	spy1 := &spyCallbacks{}
	notifier1 := notify.New()
	vault := &debris.Vault{Root: testRoot, FolderName: ".debris"}
	eng1 := New(Options{RootPath: testRoot}, spy1, fs, tree1, cache1, notifier1, vault)
	require.NoError(t, eng1.Run(context.Background()))
	require.NoError(t, cache1.Flush(context.Background()))
	require.NoError(t, cache1.Close())

	// Restart: fresh tree, reload from the same cache file, then fullscan.
	tree2 := shadowtree.New(testRoot)
	cache2, err := statecache.Open(context.Background(), cacheDir, "restart_test", seal.NopSealer{}, tree2)
	require.NoError(t, err)
	t.Cleanup(func() { cache2.Close() })

	spy2 := &spyCallbacks{}
	notifier2 := notify.New()
	eng2 := New(Options{RootPath: testRoot}, spy2, fs, tree2, cache2, notifier2, vault)

	resolve := func(handle string) any { return spyRemote{handle: handle} }
	require.NoError(t, eng2.Bootstrap(context.Background(), resolve))

	require.NoError(t, eng2.Run(context.Background()))
	assert.Equal(t, Active, eng2.State())

	for _, e := range spy2.log {
		assert.NotContains(t, e, "Add")
		assert.NotContains(t, e, "Change")
	}

	reloaded, ok := tree2.Root().ChildByName("a.txt")
	require.True(t, ok)
	fsid, hasFsid := reloaded.Fsid()
	require.True(t, hasFsid)
	assert.EqualValues(t, 42, fsid)
}
