package shadowtree

// maxReloadDepth bounds the recursion reload performs when reattaching a
// persisted tree. Trees deeper than this are truncated; the missing
// subtrees are rediscovered by the next full scan rather than risking a
// stack overflow on a pathologically deep cache.
const maxReloadDepth = 100

// ReloadRecord pairs a node's own dbid with the detached Node Deserialize
// produced for it. Records is what StateCache hands back to ReloadAttach
// after reading and deserializing every row of the table.
type ReloadRecord struct {
	Dbid int64
	Node *Node
}

// ReloadAttach reconstructs the tree from a flat set of detached nodes
// produced by Deserialize, bucketing them by parentDbid and recursively
// attaching each one starting from the nodes whose parentDbid is 0 (the
// root's children). It restores fsid registration and installs each node
// under its parent's path so GetLocalPath resolves correctly afterward.
//
// It returns the number of nodes attached and the number truncated because
// they were nested deeper than maxReloadDepth.
func (t *Tree) ReloadAttach(records []ReloadRecord) (attached int, truncated int) {
	byParent := make(map[int64][]ReloadRecord)
	for _, r := range records {
		pdbid := r.Node.ParentDbid()
		byParent[pdbid] = append(byParent[pdbid], r)
	}

	var walk func(parent *Node, parentDbid int64, depth int)
	walk = func(parent *Node, parentDbid int64, depth int) {
		children := byParent[parentDbid]
		if depth > maxReloadDepth {
			truncated += countSubtree(children, byParent)
			return
		}
		for _, r := range children {
			r.Node.tree = t
			r.Node.parent = parent
			r.Node.dbid = r.Dbid
			parent.addChild(r.Node.localName, r.Node)
			if r.Node.hasFsid {
				t.index.set(r.Node.fsid, r.Node)
			}
			attached++
			if r.Node.kind == Folder {
				walk(r.Node, r.Dbid, depth+1)
			}
		}
	}

	walk(t.root, 0, 0)
	return attached, truncated
}

func countSubtree(records []ReloadRecord, byParent map[int64][]ReloadRecord) int {
	count := len(records)
	for _, r := range records {
		count += countSubtree(byParent[r.Dbid], byParent)
	}
	return count
}
