// Package notify watches a sync root for filesystem changes and turns them
// into the two prioritized event queues the sync engine drains: DIREVENTS
// for freshly observed paths and RETRY for paths whose stat failed
// transiently and must be revisited. It wraps fsnotify the same way a
// production file watcher does: one long-lived goroutine translates raw
// platform events into a small, engine-owned queue and leaves debouncing
// and reconciliation to the caller.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pixelgardenlabs.io/localsync/pkg/limiter"
	"pixelgardenlabs.io/localsync/pkg/plog"
)

// Queue identifies one of the two FIFOs a DirNotifier maintains.
type Queue int

const (
	// DirEvents holds paths freshly observed by the OS watcher or a scan.
	DirEvents Queue = iota
	// Retry holds paths whose last stat attempt failed transiently.
	Retry
)

func (q Queue) String() string {
	switch q {
	case DirEvents:
		return "DIREVENTS"
	case Retry:
		return "RETRY"
	default:
		return "UNKNOWN"
	}
}

// decisecond is the clock granularity the reference client's debounce
// window is specified in.
const decisecond = 100 * time.Millisecond

// Event is one entry in a DirNotifier queue: a path observed at a given
// decisecond timestamp, optionally anchored to a shadow-tree node already
// known to the caller.
type Event struct {
	Queue     Queue
	Path      string
	OriginRef any
	Stamp     time.Time
}

// Age reports how long ago the event was stamped.
func (e Event) Age() time.Duration {
	return time.Since(e.Stamp)
}

// DirNotifier owns the two FIFOs the sync engine drains, and optionally an
// OS-level watcher that feeds DirEvents automatically.
type DirNotifier struct {
	mu      sync.Mutex
	queues  map[Queue][]Event
	budget  *limiter.Memory
	watcher *fsnotify.Watcher

	watchedMu sync.Mutex
	watched   map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Option configures a DirNotifier at construction time.
type Option func(*DirNotifier)

// WithMemoryBudget bounds the total size of paths queued at once. A
// notify() call that would exceed the budget is dropped and logged; the
// caller's next full scan will rediscover the path.
func WithMemoryBudget(maxBytes int64) Option {
	return func(n *DirNotifier) {
		n.budget = limiter.NewMemory(maxBytes)
	}
}

// New builds a DirNotifier with empty queues and no OS watcher attached.
// Callers that only want manual notify() calls (tests, initial scan) can
// stop here; Watch attaches a live fsnotify.Watcher.
func New(opts ...Option) *DirNotifier {
	n := &DirNotifier{
		queues:  make(map[Queue][]Event),
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Watch starts an fsnotify.Watcher rooted at root and recursively adds
// every directory beneath it, translating raw fsnotify events into
// DIREVENTS notifications. It returns once the initial watch tree is
// established; new subdirectories are picked up as they are notified.
func (n *DirNotifier) Watch(root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("notify: create watcher: %w", err)
	}

	if err := n.addRecursive(watcher, root); err != nil {
		watcher.Close()
		return fmt.Errorf("notify: watch %s: %w", root, err)
	}

	n.watcher = watcher
	n.wg.Add(1)
	go n.pump()
	return nil
}

func (n *DirNotifier) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	if err := n.addDir(watcher, dir); err != nil {
		return err
	}

	entries, err := readDirNames(dir)
	if err != nil {
		return err
	}
	for _, name := range entries {
		child := joinPath(dir, name)
		if isDir(child) {
			if err := n.addRecursive(watcher, child); err != nil {
				plog.Warn("notify: failed to watch subdirectory", "path", child, "error", err)
			}
		}
	}
	return nil
}

func (n *DirNotifier) addDir(watcher *fsnotify.Watcher, dir string) error {
	n.watchedMu.Lock()
	defer n.watchedMu.Unlock()
	if _, ok := n.watched[dir]; ok {
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	n.watched[dir] = struct{}{}
	return nil
}

// pump translates raw fsnotify events into DIREVENTS notifications. A
// Create event for a directory extends the watch tree so nested changes
// keep arriving.
func (n *DirNotifier) pump() {
	defer n.wg.Done()

	for {
		select {
		case <-n.done:
			return

		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) && isDir(ev.Name) {
				if err := n.addRecursive(n.watcher, ev.Name); err != nil {
					plog.Warn("notify: failed to extend watch tree", "path", ev.Name, "error", err)
				}
			}
			n.Notify(DirEvents, nil, ev.Name)

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			plog.Warn("notify: watcher reported an error", "error", err)
		}
	}
}

// Notify enqueues path onto queue, stamped with the current decisecond
// clock. originRef, when non-nil, is the shadow-tree node the event is
// anchored to; the engine consults it to skip a redundant resolvePath walk.
func (n *DirNotifier) Notify(queue Queue, originRef any, path string) {
	if n.budget != nil && !n.budget.TryAcquire(int64(len(path))) {
		plog.Warn("notify: dropping event, queue memory budget exhausted", "queue", queue, "path", path)
		return
	}

	ev := Event{
		Queue:     queue,
		Path:      path,
		OriginRef: originRef,
		Stamp:     time.Now().Truncate(decisecond),
	}

	n.mu.Lock()
	n.queues[queue] = append(n.queues[queue], ev)
	n.mu.Unlock()
}

// Peek returns the head of queue without removing it.
func (n *DirNotifier) Peek(queue Queue) (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.queues[queue]
	if len(q) == 0 {
		return Event{}, false
	}
	return q[0], true
}

// Pop removes and returns the head of queue.
func (n *DirNotifier) Pop(queue Queue) (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.queues[queue]
	if len(q) == 0 {
		return Event{}, false
	}
	ev := q[0]
	n.queues[queue] = q[1:]
	if n.budget != nil {
		n.budget.Release(int64(len(ev.Path)))
	}
	return ev, true
}

// Len reports how many events are queued on queue.
func (n *DirNotifier) Len(queue Queue) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queues[queue])
}

// Empty reports whether both queues are drained.
func (n *DirNotifier) Empty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queues[DirEvents]) == 0 && len(n.queues[Retry]) == 0
}

// Close stops the OS watcher, if any, and waits for the pump goroutine to
// exit.
func (n *DirNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		if n.watcher != nil {
			err = n.watcher.Close()
		}
		n.wg.Wait()
	})
	return err
}
