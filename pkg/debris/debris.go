// Package debris implements the sync engine's only deletion primitive: it
// relocates a path into a date-bucketed quarantine directory instead of
// unlinking it, so a wrong reconciliation decision is recoverable. Actual
// unlinking of debris contents is left to an external retention policy
// over the debris root; this package never removes anything itself.
package debris

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"pixelgardenlabs.io/localsync/pkg/plog"
)

// maxBucketAttempts bounds how many per-second-suffixed day buckets
// MoveToLocalDebris will try before giving up on a given call, matching
// the reference client's ~100-attempt ceiling.
const maxBucketAttempts = 100

// ErrDebrisExhausted is returned when every disambiguated bucket already
// holds a colliding entry for the requested basename.
var ErrDebrisExhausted = errors.New("debris: exhausted disambiguation attempts for this basename")

// Clock lets tests control the bucket timestamp; defaults to time.Now.
type Clock func() time.Time

// Vault manages the quarantine directory beneath a sync root.
type Vault struct {
	// Root is the sync root the vault's folder lives under.
	Root string
	// FolderName is the debris directory's name, relative to Root, unless
	// ExplicitPath overrides it entirely.
	FolderName string
	// ExplicitPath, if non-empty, is used verbatim instead of
	// filepath.Join(Root, FolderName).
	ExplicitPath string

	Now Clock

	bucketSF singleflight.Group
}

// Path returns the debris directory's absolute path.
func (v *Vault) Path() string {
	if v.ExplicitPath != "" {
		return v.ExplicitPath
	}
	return filepath.Join(v.Root, v.FolderName)
}

// IsUnderDebris reports whether path falls under the vault's directory,
// requiring a separator-aligned prefix match so a sibling like
// "<root>/.debris-old" doesn't false-positive against "<root>/.debris".
func (v *Vault) IsUnderDebris(path string) bool {
	debrisRoot := v.Path()
	if path == debrisRoot {
		return true
	}
	return len(path) > len(debrisRoot) &&
		path[:len(debrisRoot)] == debrisRoot &&
		os.IsPathSeparator(path[len(debrisRoot)])
}

func (v *Vault) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// MoveToLocalDebris relocates the file or folder at path into
// <debrisRoot>/<YYYY-MM-DD>[/<HH.MM.SS.nn>]/<basename>. It tries the plain
// day bucket first, then increasingly specific time-suffixed buckets, so
// two calls for the same basename on the same day don't collide. Returns
// true on success; false if the underlying rename failed transiently
// (caller should retry the whole reconciliation), and ErrDebrisExhausted
// if every attempted bucket already has a colliding entry.
func (v *Vault) MoveToLocalDebris(path string) (bool, error) {
	if err := os.MkdirAll(v.Path(), 0755); err != nil {
		return false, fmt.Errorf("debris: create debris root: %w", err)
	}

	basename := filepath.Base(path)
	dayBucket := v.now().Format("2006-01-02")

	dest, err := v.claimDestination(dayBucket, basename)
	if err != nil {
		return false, err
	}

	if err := os.Rename(path, dest); err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("debris: source vanished before move: %w", err)
		}
		plog.Warn("debris: rename into vault failed, treating as transient", "path", path, "dest", dest, "error", err)
		return false, nil
	}

	return true, nil
}

// claimDestination finds an available <bucket>/<basename> path, creating
// the bucket directory (deduplicated via singleflight so concurrent
// callers targeting the same bucket don't race on MkdirAll) and probing
// increasingly specific sub-buckets until one has no colliding entry.
func (v *Vault) claimDestination(dayBucket, basename string) (string, error) {
	plainBucket := filepath.Join(v.Path(), dayBucket)
	if err := v.ensureBucketDir(plainBucket); err != nil {
		return "", err
	}
	candidate := filepath.Join(plainBucket, basename)
	if _, err := os.Lstat(candidate); os.IsNotExist(err) {
		return candidate, nil
	}

	for attempt := 0; attempt < maxBucketAttempts; attempt++ {
		suffix := fmt.Sprintf("%s.%02d", v.now().Format("15.04.05"), attempt)
		bucket := filepath.Join(v.Path(), dayBucket, suffix)
		if err := v.ensureBucketDir(bucket); err != nil {
			return "", err
		}
		candidate := filepath.Join(bucket, basename)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", ErrDebrisExhausted
}

func (v *Vault) ensureBucketDir(dir string) error {
	_, err, _ := v.bucketSF.Do(dir, func() (any, error) {
		return nil, os.MkdirAll(dir, 0755)
	})
	return err
}
