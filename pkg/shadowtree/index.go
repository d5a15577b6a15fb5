package shadowtree

import (
	"strconv"

	"pixelgardenlabs.io/localsync/pkg/fsadapter"
	"pixelgardenlabs.io/localsync/pkg/sharded"
)

// fsidIndex is one Tree's fsid -> Node index; it is not shared between
// trees. It wraps a
// sharded.ShardedMap (string keys) since fsid is a numeric identity that
// needs no locality-sensitive sharding of its own; the underlying map
// already hashes and shards by key.
type fsidIndex struct {
	m *sharded.ShardedMap
}

func newFsidIndex() *fsidIndex {
	m, err := sharded.NewShardedMap()
	if err != nil {
		// numMapShards is a package constant known to be a power of two;
		// this branch is unreachable in practice.
		panic(err)
	}
	return &fsidIndex{m: m}
}

func fsidKey(fsid fsadapter.Fsid) string {
	return strconv.FormatUint(uint64(fsid), 36)
}

// lookup returns the node currently registered under fsid, if any.
func (idx *fsidIndex) lookup(fsid fsadapter.Fsid) (*Node, bool) {
	v, ok := idx.m.Load(fsidKey(fsid))
	if !ok {
		return nil, false
	}
	return v.(*Node), true
}

// set registers node under fsid, evicting whatever node previously held
// it. Invariant 2 of the shadow tree (at most one node per fsid) is
// enforced here: the evicted holder's own fsid bookkeeping is left to the
// caller, since it is normally about to be destroyed anyway.
func (idx *fsidIndex) set(fsid fsadapter.Fsid, node *Node) {
	idx.m.Store(fsidKey(fsid), node)
}

// evictIf removes the fsid -> node mapping only if node is still the
// current holder, so a stale Destroy on a node that already lost the slot
// to a newer holder can't clobber it.
func (idx *fsidIndex) evictIf(fsid fsadapter.Fsid, node *Node) {
	key := fsidKey(fsid)
	if v, ok := idx.m.Load(key); ok && v.(*Node) == node {
		idx.m.Delete(key)
	}
}
