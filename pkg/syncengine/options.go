package syncengine

import (
	"fmt"
	"time"

	"pixelgardenlabs.io/localsync/pkg/config"
	"pixelgardenlabs.io/localsync/pkg/debris"
)

// Options is the runtime configuration a SyncEngine is built from, derived
// once at startup from a config.Config. Deriving it up front means the
// hot reconciliation path never re-parses exclusion patterns or recomputes
// debounce durations per event.
type Options struct {
	RootPath string

	RemoteRootRef string
	UserIdentity  string
	InShare       bool

	FollowSymlinks        bool
	Tag                   int
	FsFingerprintOverride uint64

	FileExclusions exclusionSet
	DirExclusions  exclusionSet

	Debris debris.Vault

	NotifyDebounce time.Duration
	NotifyMaxBytes int64

	StateCacheDir string
}

// ResolveOptions turns a loaded config.Config into the immutable Options a
// SyncEngine runs with. It is the local equivalent of the batch planner
// that used to turn a Config into a run plan: same "config in, one
// resolved plan out" shape, now producing a live engine's settings instead
// of a one-shot job.
func ResolveOptions(cfg config.Config) (Options, error) {
	if cfg.RootPath == "" {
		return Options{}, fmt.Errorf("syncengine: config has no root path")
	}

	return Options{
		RootPath: cfg.RootPath,

		RemoteRootRef: cfg.RemoteRootRef,
		UserIdentity:  cfg.UserIdentity,
		InShare:       cfg.InShare,

		FollowSymlinks:        cfg.FollowSymlinks,
		Tag:                   cfg.Tag,
		FsFingerprintOverride: cfg.FsFingerprintOverride,

		FileExclusions: newExclusionSet(cfg.Exclusions.ExcludeFiles()),
		DirExclusions:  newExclusionSet(cfg.Exclusions.ExcludeDirs()),

		Debris: debris.Vault{
			Root:         cfg.RootPath,
			FolderName:   cfg.Debris.FolderName,
			ExplicitPath: cfg.Debris.ExplicitPath,
		},

		NotifyDebounce: time.Duration(cfg.Notify.DebounceDeciseconds) * 100 * time.Millisecond,
		NotifyMaxBytes: int64(cfg.Notify.MaxQueuedBytes),

		StateCacheDir: cfg.StateCache.Dir,
	}, nil
}
