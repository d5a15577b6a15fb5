package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pixelgardenlabs.io/localsync/pkg/debris"
	"pixelgardenlabs.io/localsync/pkg/fsadapter"
	"pixelgardenlabs.io/localsync/pkg/notify"
	"pixelgardenlabs.io/localsync/pkg/plog"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
	"pixelgardenlabs.io/localsync/pkg/statecache"
)

// initialScanStallTimeout bounds how long Run's initial-scan drain loop
// will wait for external SetRemoteRef bindings to unblock a backlog of
// PARENT_MISSING recirculations before yielding to Active state and
// leaving the remainder for Drain.
const initialScanStallTimeout = 30 * time.Second

// outcomeKind tags what checkPath decided about a path, so Finalize knows
// which callback and persistence step to run without re-deriving it.
type outcomeKind int

const (
	outcomeNone outcomeKind = iota
	outcomeParentMissing
	outcomeNewFolder
	outcomeNewFile
	outcomeChangedFile
	outcomeUnchanged
	outcomeMove
)

// Outcome is checkPath's tagged result: a real node, an explicit
// parent-missing postponement, or nothing. Kept as a struct rather than a
// nullable node so ParentMissing can never be confused with "no node".
type Outcome struct {
	Kind outcomeKind
	Node *shadowtree.Node
}

// Engine is the local reconciliation loop: it owns a shadow tree, a state
// cache, a debris vault and a notify queue, and drains observations from
// the notifier into shadow-tree mutations and upward callbacks. It runs
// single-threaded on whichever goroutine calls Run; no field is safe to
// touch concurrently except through the methods documented as such.
type Engine struct {
	opts      Options
	callbacks Callbacks
	fs        fsadapter.Adapter
	tree      *shadowtree.Tree
	cache     *statecache.StateCache
	notifier  *notify.DirNotifier
	vault     *debris.Vault

	fsFingerprint uint64

	stateMu sync.Mutex
	state   State

	currentSeq int64
	fullscan   bool
}

// New wires the engine's collaborators together but performs no I/O; call
// Run to start the initial scan.
func New(opts Options, callbacks Callbacks, fs fsadapter.Adapter, tree *shadowtree.Tree, cache *statecache.StateCache, notifier *notify.DirNotifier, vault *debris.Vault) *Engine {
	if callbacks == nil {
		callbacks = NopCallbacks{}
	}
	return &Engine{
		opts:      opts,
		callbacks: callbacks,
		fs:        fs,
		tree:      tree,
		cache:     cache,
		notifier:  notifier,
		vault:     vault,
		state:     InitialScan,
	}
}

// State returns the engine's current lifecycle state. Safe to call from
// any goroutine.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// transition moves the engine to next if the transition table allows it,
// notifying callbacks.SyncUpdateState on success. Attempting an illegal
// transition is a no-op; callers that need to know should check State
// first.
func (e *Engine) transition(next State) bool {
	e.stateMu.Lock()
	if !e.state.CanTransitionTo(next) {
		e.stateMu.Unlock()
		return false
	}
	e.state = next
	e.stateMu.Unlock()

	e.callbacks.SyncUpdateState(next)
	return true
}

// Cancel transitions the engine to Canceled, after which Drain does
// nothing. A Run still in its initial scan does not check the state: it
// keeps processing queued paths (still mutating the cache and firing
// callbacks) and then returns an error because it cannot reach Active.
// checkPath and DeleteLocal do not consult the state either. It is safe to
// call from any goroutine and may be called more than once.
func (e *Engine) Cancel() {
	e.transition(Canceled)
}

// fail transitions the engine to Failed and logs the fatal cause.
func (e *Engine) fail(err error) {
	if e.transition(Failed) {
		plog.Error("syncengine: engine failed", "error", err)
	}
}

// Bootstrap reloads the shadow tree from the state cache, if any records
// exist, before the first scan runs. Call it once, before Run.
func (e *Engine) Bootstrap(ctx context.Context, resolve shadowtree.RemoteRefResolver) error {
	attached, truncated, err := e.cache.Reload(ctx, resolve)
	if err != nil {
		return fmt.Errorf("syncengine: bootstrap reload: %w", err)
	}
	plog.Info("syncengine: reloaded shadow tree from cache", "attached", attached, "truncated", truncated)
	return nil
}

// Run performs the initial fullscan pass and, once it completes without a
// fatal error, transitions the engine to Active and returns. Ongoing
// reconciliation after that point is driven by repeated calls to Drain as
// the notifier's queues fill.
func (e *Engine) Run(ctx context.Context) error {
	if e.State() != InitialScan {
		return fmt.Errorf("syncengine: Run called outside InitialScan")
	}

	root, err := e.fs.Lstat(e.opts.RootPath)
	if err != nil {
		e.fail(&RootIsFile{Path: e.opts.RootPath})
		return fmt.Errorf("syncengine: stat root %s: %w", e.opts.RootPath, err)
	}
	if !root.IsDir {
		e.fail(&RootIsFile{Path: e.opts.RootPath})
		return &RootIsFile{Path: e.opts.RootPath}
	}
	e.fsFingerprint = e.resolveFsFingerprint(root)

	e.tree.Root().SetFsid(root.Fsid)

	e.currentSeq++
	e.fullscan = true
	if err := e.scan(e.tree.Root(), e.opts.RootPath); err != nil {
		return fmt.Errorf("syncengine: initial scan: %w", err)
	}

	lastProgress := time.Now()
	for !e.notifier.Empty() {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed, err := e.drainOnce(ctx)
		if err != nil {
			return err
		}
		if progressed {
			lastProgress = time.Now()
			continue
		}
		if time.Since(lastProgress) > initialScanStallTimeout {
			plog.Warn("syncengine: initial scan stalled waiting on parent bindings, leaving remainder for Drain",
				"dirEvents", e.notifier.Len(notify.DirEvents), "retry", e.notifier.Len(notify.Retry))
			break
		}
	}

	// A stalled break above leaves some already-tracked nodes without a
	// fresh scanSeqNo purely because their turn never came. deleteMissing
	// only destroys nodes lagging currentSeq by more than one, and this is
	// the engine's only fullscan (currentSeq is 1), so they are kept.
	e.deleteMissing(e.tree.Root())
	e.fullscan = false

	if err := e.flushAndReport(ctx); err != nil {
		plog.Warn("syncengine: initial flush incomplete", "error", err)
	}

	if !e.transition(Active) {
		return fmt.Errorf("syncengine: could not transition to Active from %s", e.State())
	}
	return nil
}

// Drain processes one round of both notifier queues and flushes the cache
// if both are empty afterward. Callers run it in a loop, e.g. after the
// OS watcher reports activity or on a timer.
func (e *Engine) Drain(ctx context.Context) error {
	if e.State() != Active {
		return nil
	}
	if _, err := e.drainOnce(ctx); err != nil {
		return err
	}

	if e.notifier.Empty() && e.cache.ShouldFlush(true) {
		if err := e.flushAndReport(ctx); err != nil {
			var partial *CachePartial
			if errors.As(err, &partial) {
				plog.Warn("syncengine: flush left nodes unpersisted", "remaining", partial.Remaining)
				return nil
			}
			return err
		}
	}
	return nil
}

// flushAndReport flushes the state cache and surfaces a non-fatal
// CachePartial when nodes remain unpersisted afterward, per §4.4's
// fixpoint rule.
func (e *Engine) flushAndReport(ctx context.Context) error {
	if err := e.cache.Flush(ctx); err != nil {
		return fmt.Errorf("syncengine: flush: %w", err)
	}
	if remaining := e.cache.PendingInserts(); remaining > 0 {
		return &CachePartial{Remaining: remaining}
	}
	return nil
}

// DeleteLocal quarantines node's on-disk path into the debris vault and,
// on success, removes node from the shadow tree and cache. It returns
// (false, nil) when the underlying move failed transiently and should be
// retried, and a DebrisExhausted error when the vault could not find an
// unclaimed destination.
func (e *Engine) DeleteLocal(node *shadowtree.Node) (bool, error) {
	path := node.GetLocalPath()
	ok, err := e.vault.MoveToLocalDebris(path)
	if err != nil {
		if errors.Is(err, debris.ErrDebrisExhausted) {
			return false, &DebrisExhausted{Path: path}
		}
		return false, fmt.Errorf("syncengine: quarantine %s: %w", path, err)
	}
	if !ok {
		return false, nil
	}

	node.Destroy()
	e.cache.Del(node)
	return true, nil
}

// drainOnce processes one ready event from each queue. When neither queue
// had a ready event, it sleeps for the shorter of the two reported wait
// hints (bounded by ctx) so a caller looping on it doesn't spin while
// events debounce. The returned bool reports whether either queue made
// real progress, as opposed to merely recirculating a parent-missing event.
func (e *Engine) drainOnce(ctx context.Context) (progressed bool, err error) {
	waitDir, handledDir, progDir := e.procScanQ(notify.DirEvents)
	waitRetry, handledRetry, progRetry := e.procScanQ(notify.Retry)

	if handledDir || handledRetry {
		return progDir || progRetry, nil
	}

	wait := waitDir
	if waitRetry > 0 && (wait == 0 || waitRetry < wait) {
		wait = waitRetry
	}
	if wait == 0 {
		return false, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	}
}

// resolveFsFingerprint returns the configured override if set, otherwise
// derives a stable per-volume value from the root's own fsid so two
// distinct engines pointed at two distinct volumes never alias.
func (e *Engine) resolveFsFingerprint(root fsadapter.Info) uint64 {
	if e.opts.FsFingerprintOverride != 0 {
		return e.opts.FsFingerprintOverride
	}
	return uint64(root.Fsid)*2654435761 + 1
}

// isSyncable applies the configured exclusion sets and the caller-supplied
// predicate. relPath is slash-separated and root-relative.
func (e *Engine) isSyncable(name, relPath, parentPath string) bool {
	// The entry's kind isn't known at every call site (scan filters before
	// stat'ing); checking both sets and rejecting on either match is safe
	// since file and directory patterns don't collide in practice.
	if e.opts.FileExclusions.matches(relPath, name) {
		return false
	}
	if e.opts.DirExclusions.matches(relPath, name) {
		return false
	}
	return e.callbacks.SyncSyncable(name, parentPath, name)
}

// checkPath is the engine's central reconciliation operation. anchor, when
// non-nil, is a shadow node
// already known to be localPath's parent, letting the caller skip a
// resolvePath walk; lastComponent overrides the name derived from
// localPath when set.
func (e *Engine) checkPath(anchor *shadowtree.Node, localPath, lastComponent string) (Outcome, error) {
	parentNode, name, isRoot, err := e.locate(anchor, localPath, lastComponent)
	if err != nil {
		return Outcome{Kind: outcomeNone}, err
	}

	relPath, _ := filepath.Rel(e.opts.RootPath, localPath)
	relPath = filepath.ToSlash(relPath)

	if !isRoot {
		if e.vault != nil && e.vault.IsUnderDebris(localPath) {
			return Outcome{Kind: outcomeNone}, nil
		}
		if !e.isSyncable(name, relPath, filepath.Dir(localPath)) {
			return Outcome{Kind: outcomeNone}, nil
		}
		if parentNode != e.tree.Root() && parentNode.RemoteRef() == nil {
			return Outcome{Kind: outcomeParentMissing}, nil
		}
	}

	matched, _ := lookupChild(parentNode, name, isRoot, e.tree.Root())

	info, statErr := e.fs.Lstat(localPath)
	if statErr != nil {
		return e.handleStatFailure(matched, localPath, statErr)
	}

	if e.fullscan && matched != nil && fullscanFastPath(matched, info) {
		matched.SetScanSeqNo(e.currentSeq)
		matched.SetNotSeen(0)
		if matched.Kind() == shadowtree.Folder {
			if err := e.scan(matched, localPath); err != nil {
				return Outcome{}, err
			}
		}
		return Outcome{Kind: outcomeUnchanged, Node: matched}, nil
	}

	kind := shadowtree.File
	if info.IsDir {
		kind = shadowtree.Folder
	}

	if matched != nil && matched.Kind() != kind {
		matched.Destroy()
		e.cache.Del(matched)
		matched = nil
	}

	if matched != nil {
		return e.reconcileMatched(matched, parentNode, name, localPath, info)
	}

	return e.reconcileNew(parentNode, name, localPath, info)
}

// locate resolves localPath to its parent node and last-path-component
// name, per phase 1 of checkPath.
func (e *Engine) locate(anchor *shadowtree.Node, localPath, lastComponent string) (parent *shadowtree.Node, name string, isRoot bool, err error) {
	if anchor != nil {
		name = lastComponent
		if name == "" {
			name = filepath.Base(localPath)
		}
		return anchor, name, false, nil
	}

	relPath, relErr := filepath.Rel(e.opts.RootPath, localPath)
	if relErr != nil || strings.HasPrefix(relPath, "..") {
		return nil, "", false, &InvalidPath{Path: localPath, Reason: "not under sync root"}
	}
	if relPath == "." {
		return e.tree.Root(), "", true, nil
	}

	components := strings.Split(filepath.ToSlash(relPath), "/")
	name = components[len(components)-1]
	parentComponents := components[:len(components)-1]

	outcome := e.tree.ResolvePath(nil, parentComponents)
	if outcome.Residual != "" {
		return nil, "", false, &InvalidPath{Path: localPath, Reason: "parent directory not yet tracked"}
	}
	parent = outcome.Matched
	if parent == nil {
		parent = e.tree.Root()
	}
	return parent, name, false, nil
}

func lookupChild(parent *shadowtree.Node, name string, isRoot bool, root *shadowtree.Node) (*shadowtree.Node, bool) {
	if isRoot {
		return root, true
	}
	return parent.ChildByName(name)
}

// fullscanFastPath reports whether a matched node's cached metadata
// already agrees with a fresh stat, letting a restart skip re-fingerprinting
// unchanged files.
func fullscanFastPath(node *shadowtree.Node, info fsadapter.Info) bool {
	fsid, hasFsid := node.Fsid()
	if !hasFsid || fsid != info.Fsid {
		return false
	}
	if node.Kind() == shadowtree.Folder {
		return true
	}
	size, mtime := node.SizeMtime()
	return size == info.Size && mtime.Equal(info.ModTime)
}

// handleStatFailure implements phase 4's failure branch: a not-exist stat
// failure is folded into the notSeen/deleteMissing protocol rather than
// surfaced as an error; any other stat failure queues a RETRY event and
// returns a TransientIoError.
func (e *Engine) handleStatFailure(matched *shadowtree.Node, localPath string, statErr error) (Outcome, error) {
	if errors.Is(statErr, fs.ErrNotExist) {
		if matched != nil && !e.fullscan {
			matched.SetNotSeen(matched.NotSeenCount() + 1)
			if matched.NotSeenCount() >= 2 {
				matched.MarkDeleted()
				matched.Destroy()
				e.cache.Del(matched)
			}
		}
		return Outcome{Kind: outcomeNone}, nil
	}

	e.notifier.Notify(notify.Retry, matched, localPath)
	return Outcome{Kind: outcomeNone}, &TransientIoError{Path: localPath, Err: statErr}
}

// reconcileMatched implements phase 6: an existing node survives at the
// destination path and must be reconciled against fresh stat info.
func (e *Engine) reconcileMatched(matched, parentNode *shadowtree.Node, name, localPath string, info fsadapter.Info) (Outcome, error) {
	if matched.Kind() == shadowtree.Folder {
		matched.SetFsid(info.Fsid)
		matched.SetScanSeqNo(e.currentSeq)
		matched.SetNotSeen(0)
		if err := e.scan(matched, localPath); err != nil {
			return Outcome{}, err
		}
		return Outcome{Kind: outcomeUnchanged, Node: matched}, nil
	}

	fsid, hasFsid := matched.Fsid()
	if hasFsid && fsid != info.Fsid {
		if holder, ok := e.tree.LookupFsid(info.Fsid); ok {
			holderSize, holderMtime := holder.SizeMtime()
			if holderSize != info.Size || !holderMtime.Equal(info.ModTime) {
				holder.Destroy()
				e.cache.Del(holder)
			} else {
				return e.overwriteByMove(matched, holder, parentNode, name, localPath)
			}
		}
		matched.InvalidateFingerprint()
	}

	changed, err := matched.GenFingerprint(e.fs, localPath, info)
	if err != nil {
		e.notifier.Notify(notify.Retry, matched, localPath)
		return Outcome{Kind: outcomeNone}, &TransientIoError{Path: localPath, Err: err}
	}
	matched.SetFsid(info.Fsid)
	matched.SetScanSeqNo(e.currentSeq)
	matched.SetNotSeen(0)

	if !changed {
		return Outcome{Kind: outcomeUnchanged, Node: matched}, nil
	}

	matched.SetTransferRef(nil)
	e.cache.Add(matched)
	e.callbacks.SyncUpdateLocalFileChange(matched, e.displayPath(localPath))
	return Outcome{Kind: outcomeChangedFile, Node: matched}, nil
}

// overwriteByMove handles phase 6's overwrite-by-move branch: destPath
// already had a node, but the fsid now observed there belongs to some
// other tracked node with matching (size, mtime) -- the filesystem's way
// of reporting "rename src over dest".
func (e *Engine) overwriteByMove(destNode, srcNode, newParent *shadowtree.Node, newName, localPath string) (Outcome, error) {
	destNode.Destroy()
	e.cache.Del(destNode)

	if err := e.cache.Flush(context.Background()); err != nil {
		plog.Warn("syncengine: flush before overwrite-move failed", "error", err)
	}

	srcNode.SetNameParent(newParent, newName)
	srcNode.SetScanSeqNo(e.currentSeq)
	srcNode.SetNotSeen(0)
	e.cache.Add(srcNode)
	e.callbacks.SyncUpdateLocalMove(srcNode, e.displayPath(localPath))
	return Outcome{Kind: outcomeMove, Node: srcNode}, nil
}

// reconcileNew implements phase 7: no existing node survived at the
// destination, so either an already-tracked node is moving in, or a
// brand-new node must be created.
func (e *Engine) reconcileNew(parentNode *shadowtree.Node, name, localPath string, info fsadapter.Info) (Outcome, error) {
	kind := shadowtree.File
	if info.IsDir {
		kind = shadowtree.Folder
	}

	if holder, ok := e.tree.LookupFsid(info.Fsid); ok && holder.Kind() == kind {
		matches := true
		if kind == shadowtree.File {
			size, mtime := holder.SizeMtime()
			matches = size == info.Size && mtime.Equal(info.ModTime)
		}
		if matches {
			holder.SetNameParent(parentNode, name)
			holder.SetScanSeqNo(e.currentSeq)
			holder.SetNotSeen(0)
			e.cache.Add(holder)
			e.callbacks.SyncUpdateLocalMove(holder, e.displayPath(localPath))
			if e.fullscan && kind == shadowtree.Folder {
				if err := e.scan(holder, localPath); err != nil {
					return Outcome{}, err
				}
			}
			return Outcome{Kind: outcomeMove, Node: holder}, nil
		}
	}

	newNode := e.tree.NewNode(kind)
	newNode.Init(parentNode, localPath)
	newNode.SetFsid(info.Fsid)
	newNode.SetScanSeqNo(e.currentSeq)

	if kind == shadowtree.File {
		if _, err := newNode.GenFingerprint(e.fs, localPath, info); err != nil {
			e.notifier.Notify(notify.Retry, newNode, localPath)
			return Outcome{Kind: outcomeNone}, &TransientIoError{Path: localPath, Err: err}
		}
		e.cache.Add(newNode)
		e.callbacks.SyncUpdateLocalFileAddition(newNode, e.displayPath(localPath))
		return Outcome{Kind: outcomeNewFile, Node: newNode}, nil
	}

	e.cache.Add(newNode)
	e.callbacks.SyncUpdateLocalFolderAddition(newNode, e.displayPath(localPath))
	if err := e.scan(newNode, localPath); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: outcomeNewFolder, Node: newNode}, nil
}

// displayPath renders a local path root-relative, with forward slashes,
// for callback consumers regardless of host OS.
func (e *Engine) displayPath(localPath string) string {
	rel, err := filepath.Rel(e.opts.RootPath, localPath)
	if err != nil {
		return localPath
	}
	return filepath.ToSlash(rel)
}

// IsFatal reports whether err should transition the engine to Failed
// rather than being absorbed by the notSeen/retry protocol.
func IsFatal(err error) bool {
	var rootIsFile *RootIsFile
	if errors.As(err, &rootIsFile) {
		return true
	}
	return false
}
