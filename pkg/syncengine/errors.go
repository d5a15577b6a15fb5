package syncengine

import (
	"errors"
	"fmt"

	"pixelgardenlabs.io/localsync/pkg/hints"
)

// TransientIoError signals that an FsAdapter call failed in a way that
// should be retried rather than treated as the target being gone. checkPath
// enqueues a RETRY event and returns this error; IsRetryable reports it as
// retryable, so procScanQ does not log it.
type TransientIoError struct {
	Path string
	Err  error
}

func (e *TransientIoError) Error() string {
	return fmt.Sprintf("syncengine: transient I/O error at %s: %v", e.Path, e.Err)
}
func (e *TransientIoError) Unwrap() error { return e.Err }

// InvalidPath signals a malformed path or one that doesn't resolve under
// the engine's root. The observation is dropped with a warning, never
// retried.
type InvalidPath struct {
	Path   string
	Reason string
}

func (e *InvalidPath) Error() string {
	return fmt.Sprintf("syncengine: invalid path %s: %s", e.Path, e.Reason)
}

// ParentNotReady signals that a destination's parent exists in the shadow
// tree but has no remote counterpart yet. The caller re-queues the
// observation for a later pass.
var ErrParentNotReady = hints.New("syncengine: parent has no remote counterpart yet")

// RootIsFile is fatal: the engine's root resolved to a file rather than a
// directory. The engine transitions to Failed when this occurs.
type RootIsFile struct {
	Path string
}

func (e *RootIsFile) Error() string {
	return fmt.Sprintf("syncengine: root %s resolved to a file, not a directory", e.Path)
}

// CachePartial signals that StateCache.Flush could not reach a fixpoint:
// some queued inserts still had no persisted parent after the last pass.
// It is logged and non-fatal; the next flush retries the leftover work.
type CachePartial struct {
	Remaining int
}

func (e *CachePartial) Error() string {
	return fmt.Sprintf("syncengine: flush left %d node(s) unpersisted", e.Remaining)
}

// DebrisExhausted signals that DebrisVault could not find an unclaimed
// bucket for a quarantined path after exhausting its disambiguation
// attempts.
type DebrisExhausted struct {
	Path string
}

func (e *DebrisExhausted) Error() string {
	return fmt.Sprintf("syncengine: debris vault exhausted disambiguation attempts for %s", e.Path)
}

// IsRetryable reports whether err represents a condition checkPath handles
// by re-queueing the path, so callers need not log or drop it.
func IsRetryable(err error) bool {
	var transient *TransientIoError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, ErrParentNotReady)
}
