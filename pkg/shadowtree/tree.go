package shadowtree

import (
	"pixelgardenlabs.io/localsync/pkg/fsadapter"
)

// Tree owns the root ShadowNode and the fsid index shared by every node
// beneath it. Each Tree has its own index; nodes of different trees are
// never indexed together.
type Tree struct {
	rootPath string
	root     *Node
	index    *fsidIndex
}

// New builds a Tree rooted at rootPath with an empty index. The root node
// itself has no parent and no localName.
func New(rootPath string) *Tree {
	t := &Tree{
		rootPath: rootPath,
		index:    newFsidIndex(),
	}
	t.root = &Node{
		tree: t,
		kind: Folder,
	}
	return t
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// RootPath returns the absolute path the tree is rooted at.
func (t *Tree) RootPath() string { return t.rootPath }

// NewNode allocates a detached node of the given kind, not yet installed
// anywhere in the tree. Callers install it with Node.Init, which also
// establishes its localName; NewNode leaves localName empty so Init always
// performs a fresh insert rather than being mistaken for a rename.
func (t *Tree) NewNode(kind Kind) *Node {
	return &Node{
		tree:       t,
		kind:       kind,
		parentDbid: 0,
	}
}

// LookupFsid returns the node currently registered under fsid in this
// tree's index, if any.
func (t *Tree) LookupFsid(fsid fsadapter.Fsid) (*Node, bool) {
	return t.index.lookup(fsid)
}

// ResolveOutcome is the result of walking the tree for a path.
type ResolveOutcome struct {
	Matched       *Node
	DeepestParent *Node
	Residual      string
}

// ResolvePath walks components, relative to start (the tree root when start
// is nil), one by one through the primary and shadow child maps. It returns the
// matched node (nil on a partial match), the deepest node whose children
// were consulted, and whatever suffix of the path remains unresolved.
func (t *Tree) ResolvePath(start *Node, components []string) ResolveOutcome {
	cur := start
	if cur == nil {
		cur = t.root
	}

	for i, name := range components {
		child, ok := cur.ChildByName(name)
		if !ok {
			return ResolveOutcome{
				Matched:       nil,
				DeepestParent: cur,
				Residual:      joinComponents(components[i:]),
			}
		}
		cur = child
	}

	return ResolveOutcome{Matched: cur, DeepestParent: cur.Parent(), Residual: ""}
}

func joinComponents(components []string) string {
	out := ""
	for i, c := range components {
		if i > 0 {
			out += "/"
		}
		out += c
	}
	return out
}
