package syncengine

import (
	"fmt"
	"path/filepath"
	"time"

	"pixelgardenlabs.io/localsync/pkg/notify"
	"pixelgardenlabs.io/localsync/pkg/plog"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
)

// minAgeDuration is the debounce window procScanQ enforces before acting
// on a queued path, giving a partially-written file time to settle.
const minAgeDuration = 3 * 100 * time.Millisecond

// scan opens the directory at path and enqueues a DIREVENTS notification
// for every entry that passes the ignore filter and isn't under debris.
// It is non-recursive at this layer: recursion happens implicitly because
// checkPath calls scan again when it discovers a new or matched folder.
func (e *Engine) scan(node *shadowtree.Node, path string) error {
	entries, err := e.fs.ReadDirNames(path)
	if err != nil {
		e.notifier.Notify(notify.Retry, node, path)
		return fmt.Errorf("syncengine: scan %s: %w", path, err)
	}

	for _, name := range entries {
		childPath := filepath.Join(path, name)

		if e.vault != nil && e.vault.IsUnderDebris(childPath) {
			continue
		}
		relPath := e.displayPath(childPath)
		if !e.isSyncable(name, relPath, path) {
			continue
		}

		e.notifier.Notify(notify.DirEvents, node, childPath)
	}
	return nil
}

// minRetryWait is the floor procScanQ reports as its wait hint while the
// event at the head of the queue is still debouncing, so a caller looping
// on the hint doesn't spin. An empty queue reports a wait of 0.
const minRetryWait = 300 * time.Millisecond

// procScanQ drains up to one ready event from queue, per §4.8: an event
// younger than three deciseconds is left in place to debounce
// partially-written files, PARENT_MISSING re-queues the event at the tail,
// and everything else is popped after checkPath runs. It returns how long
// the caller should wait before calling again when nothing was processed,
// whether an event was handled this call, and whether that handling made
// real progress (anything other than a parent-missing recirculation).
func (e *Engine) procScanQ(queue notify.Queue) (wait time.Duration, handled bool, progressed bool) {
	ev, ok := e.notifier.Peek(queue)
	if !ok {
		return 0, false, false
	}

	if age := ev.Age(); age < minAgeDuration {
		remaining := minAgeDuration - age
		if remaining < minRetryWait {
			remaining = minRetryWait
		}
		return remaining, false, false
	}

	anchor, _ := ev.OriginRef.(*shadowtree.Node)
	outcome, err := e.checkPath(anchor, ev.Path, "")

	if err != nil && !IsRetryable(err) {
		plog.Warn("syncengine: dropping unprocessable path", "path", ev.Path, "error", err)
	}
	if IsFatal(err) {
		e.fail(err)
	}

	e.notifier.Pop(queue)

	if outcome.Kind == outcomeParentMissing {
		e.notifier.Notify(queue, ev.OriginRef, ev.Path)
		return 0, true, false
	}

	return 0, true, true
}
