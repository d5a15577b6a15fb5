package statecache

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// cacheNamespace scopes the deterministic table names this package
// generates so they never collide with a UUID minted for an unrelated
// purpose elsewhere in the process.
var cacheNamespace = uuid.MustParse("2f0a6e0c-6d0b-4a9e-9b0e-6f6a0d9c5b3a")

// TableName derives the cache table identifier from the tuple that
// uniquely identifies a sync relationship: the local root's fsid, the
// remote root's opaque handle, and the identity syncing it. Relocating the
// root, pointing it at a different remote folder, or switching users all
// produce a distinct, deterministic table name, so each relationship gets
// its own cache without needing a lookup table of its own.
func TableName(rootFsid uint64, remoteRootHandle, userIdentity string) string {
	key := fmt.Sprintf("%d:%s:%s", rootFsid, remoteRootHandle, userIdentity)
	id := uuid.NewSHA1(cacheNamespace, []byte(key))
	return "cache_" + strings.ReplaceAll(id.String(), "-", "")
}
