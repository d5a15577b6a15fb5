// Package shadowtree implements the local mirror the sync engine keeps of
// the filesystem: a tree of ShadowNodes rooted at the sync root, each
// carrying the metadata and content fingerprint the engine needs to decide
// whether a path has changed since it was last observed.
package shadowtree

import (
	"path/filepath"
	"sync"
	"time"

	"pixelgardenlabs.io/localsync/pkg/fsadapter"
)

// Kind distinguishes the two node types the engine tracks.
type Kind int

const (
	File Kind = iota
	Folder
)

func (k Kind) String() string {
	if k == Folder {
		return "FOLDER"
	}
	return "FILE"
}

// InvalidSize is the sentinel that forces fingerprint recomputation on the
// next genFingerprint call.
const InvalidSize = -1

// Node is one file or directory the engine believes exists locally. The
// zero value is not usable; construct nodes through a Tree.
type Node struct {
	mu sync.Mutex

	tree   *Tree
	kind   Kind
	parent *Node

	localName string

	children       map[string]*Node
	shadowChildren map[string]*Node

	remoteRef any

	fsid      fsadapter.Fsid
	hasFsid   bool

	size  int64
	mtime time.Time

	fingerprint []byte

	scanSeqNo    int64
	notSeenCount int
	deleted      bool

	dbid       int64
	parentDbid int64

	transferRef any
}

// Kind returns the node's type.
func (n *Node) Kind() Kind { return n.kind }

// LocalName returns the last path component under which this node is
// currently indexed in its parent.
func (n *Node) LocalName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localName
}

// Parent returns the owning node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// RemoteRef returns the bound remote counterpart, if any.
func (n *Node) RemoteRef() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remoteRef
}

// SetRemoteRef binds the node to its remote counterpart.
func (n *Node) SetRemoteRef(remote any) {
	n.mu.Lock()
	n.remoteRef = remote
	n.mu.Unlock()
}

// Fsid returns the node's filesystem-issued identity and whether one has
// been set.
func (n *Node) Fsid() (fsadapter.Fsid, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fsid, n.hasFsid
}

// SetFsid updates the tree's fsid index, evicting any prior holder
// of fsid and registering n in its place.
func (n *Node) SetFsid(fsid fsadapter.Fsid) {
	n.mu.Lock()
	n.fsid = fsid
	n.hasFsid = true
	n.mu.Unlock()
	n.tree.index.set(fsid, n)
}

// SetNotSeen sets notSeenCount; a value of 0 also clears the sticky
// deleted flag.
func (n *Node) SetNotSeen(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notSeenCount = count
	if count == 0 {
		n.deleted = false
	}
}

// NotSeenCount reports how many consecutive scans have not observed n.
func (n *Node) NotSeenCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notSeenCount
}

// MarkDeleted sets the sticky deleted flag.
func (n *Node) MarkDeleted() {
	n.mu.Lock()
	n.deleted = true
	n.mu.Unlock()
}

// Deleted reports the sticky deleted flag.
func (n *Node) Deleted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deleted
}

// SizeMtime returns the last observed size and modification time.
func (n *Node) SizeMtime() (int64, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.size, n.mtime
}

// InvalidateFingerprint sets size to the InvalidSize sentinel, forcing the
// next genFingerprint call to recompute from scratch.
func (n *Node) InvalidateFingerprint() {
	n.mu.Lock()
	n.size = InvalidSize
	n.mu.Unlock()
}

// Fingerprint returns the last computed content fingerprint.
func (n *Node) Fingerprint() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fingerprint
}

// ScanSeqNo returns the sequence number of the last scan pass that
// observed this node.
func (n *Node) ScanSeqNo() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scanSeqNo
}

// SetScanSeqNo stamps the node with the current scan pass number.
func (n *Node) SetScanSeqNo(seq int64) {
	n.mu.Lock()
	n.scanSeqNo = seq
	n.mu.Unlock()
}

// Dbid returns the node's StateCache identifier, 0 if never persisted.
func (n *Node) Dbid() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dbid
}

// SetDbid records the node's StateCache identifier after a successful
// persist.
func (n *Node) SetDbid(dbid int64) {
	n.mu.Lock()
	n.dbid = dbid
	n.mu.Unlock()
}

// ParentDbid returns the cached parent dbid, meaningful only during cache
// reload.
func (n *Node) ParentDbid() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.parentDbid
}

// TransferRef returns the opaque in-flight transfer handle, if any.
func (n *Node) TransferRef() any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transferRef
}

// SetTransferRef binds or clears the in-flight transfer handle.
func (n *Node) SetTransferRef(ref any) {
	n.mu.Lock()
	n.transferRef = ref
	n.mu.Unlock()
}

// ChildByName looks up a child by its current local name, consulting the
// primary map first and the shadow map (nodes whose remote counterpart has
// moved but whose local name lags behind) second.
func (n *Node) ChildByName(name string) (*Node, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.children[name]; ok {
		return c, true
	}
	if c, ok := n.shadowChildren[name]; ok {
		return c, true
	}
	return nil, false
}

// Children returns a snapshot of the primary child map.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	return out
}

// GetLocalPath reconstructs the node's absolute path by walking to root.
func (n *Node) GetLocalPath() string {
	var parts []string
	for cur := n; cur != nil && cur.parent != nil; cur = cur.parent {
		parts = append([]string{cur.LocalName()}, parts...)
	}
	root := n.tree.rootPath
	if len(parts) == 0 {
		return root
	}
	return filepath.Join(append([]string{root}, parts...)...)
}

// Init installs the node under parent with the given path's last component
// as its localName. If the node previously had a non-empty localName, this
// call is a rename: the node is removed from its old parent's primary map
// and reinserted under the new parent. Nodes from Tree.NewNode start with
// an empty localName, so their first Init is a fresh insert.
func (n *Node) Init(parent *Node, path string) {
	newName := filepath.Base(path)

	n.mu.Lock()
	oldParent := n.parent
	oldName := n.localName
	n.mu.Unlock()

	if oldName != "" && oldParent != nil {
		oldParent.removeChild(oldName, n)
	}

	n.mu.Lock()
	n.parent = parent
	n.localName = newName
	n.mu.Unlock()

	parent.addChild(newName, n)
}

// SetNameParent atomically reparents n to newParent under newName,
// transferring it out of its current parent's maps. Used for local-move
// reconciliation.
func (n *Node) SetNameParent(newParent *Node, newName string) {
	n.mu.Lock()
	oldParent := n.parent
	oldName := n.localName
	n.mu.Unlock()

	if oldParent != nil {
		oldParent.removeChild(oldName, n)
	}

	n.mu.Lock()
	n.parent = newParent
	n.localName = newName
	n.mu.Unlock()

	newParent.addChild(newName, n)
}

func (n *Node) addChild(name string, child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	n.children[name] = child
}

func (n *Node) removeChild(name string, child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.children[name] == child {
		delete(n.children, name)
	}
	if n.shadowChildren[name] == child {
		delete(n.shadowChildren, name)
	}
}

// shadow marks child as reachable under name via the secondary map: its
// remote counterpart has moved but its local name has not caught up yet.
func (n *Node) shadow(name string, child *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shadowChildren == nil {
		n.shadowChildren = make(map[string]*Node)
	}
	n.shadowChildren[name] = child
}

// Destroy removes n from its parent and, if n is a folder, recursively
// destroys its subtree. It evicts n's fsid registration.
func (n *Node) Destroy() {
	if n.kind == Folder {
		for _, c := range n.Children() {
			c.Destroy()
		}
	}

	n.mu.Lock()
	parent := n.parent
	name := n.localName
	fsid := n.fsid
	hasFsid := n.hasFsid
	n.mu.Unlock()

	if parent != nil {
		parent.removeChild(name, n)
	}
	if hasFsid {
		n.tree.index.evictIf(fsid, n)
	}
}
