// Package preflight provides functions for validation and checks that run
// before a SyncEngine begins its initial scan. These checks are stateless
// and idempotent (with the exception of directory-exists checks), ensuring
// the sync root is in a suitable state before the engine starts reconciling
// against it.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckSyncRootAccessible performs pre-flight checks to ensure rootPath is
// usable as the local root of a sync tree. It provides more user-friendly
// errors than letting the first scan() call fail deep inside the engine,
// and maps directly onto the RootIsFile fatal condition: the caller should
// treat a non-directory rootPath as fatal, not transient.
//
// The checks include:
//  1. rootPath exists and is a directory.
//  2. If rootPath looks like it should be a mount point, that the underlying
//     device is actually mounted, to prevent silently treating an unmounted
//     "ghost" directory as an empty (and therefore fully-deletable) sync root.
func CheckSyncRootAccessible(rootPath string) error {
	info, err := os.Stat(rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("sync root %s does not exist", rootPath)
		}
		return fmt.Errorf("cannot stat sync root %s: %w", rootPath, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("sync root %s exists but is not a directory", rootPath)
	}

	if err := validateRootPath(rootPath); err != nil {
		return err
	}

	return nil
}

// CheckDebrisRootWritable ensures the DebrisVault's root directory can be
// created and is writable, by performing an actual filesystem write. A
// silent permissions problem here should surface before the first deletion
// is quarantined, not in the middle of one.
func CheckDebrisRootWritable(debrisRoot string) error {
	if err := os.MkdirAll(debrisRoot, 0755); err != nil {
		return fmt.Errorf("failed to create debris root %s: %w", debrisRoot, err)
	}

	tempFile := filepath.Join(debrisRoot, ".localsync-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("debris root %s is not writable: %w", debrisRoot, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}
