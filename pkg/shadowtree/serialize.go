package shadowtree

import (
	"encoding/json"
	"fmt"
	"time"

	"pixelgardenlabs.io/localsync/pkg/fsadapter"
)

// RemoteRef is the interface a remote-side counterpart handle must satisfy
// to survive a Serialize/Deserialize round trip. The core never interprets
// Handle()'s contents; it treats it as an opaque string to persist and
// hand back to a RemoteRefResolver on reload.
type RemoteRef interface {
	Handle() string
}

// RemoteRefResolver turns a persisted handle string back into whatever
// remote-side object the caller's coordinator uses. It is supplied by the
// caller at reload time, never by this package.
type RemoteRefResolver func(handle string) any

// Record is the plaintext a Node serializes to before StateCache seals it.
// Field names are part of the persisted format and must not change without
// a schema version bump on the owning cache.
type Record struct {
	Kind         Kind      `json:"kind"`
	LocalName    string    `json:"localName"`
	Size         int64     `json:"size"`
	Mtime        time.Time `json:"mtime"`
	Fsid         uint64    `json:"fsid"`
	HasFsid      bool      `json:"hasFsid"`
	Fingerprint  []byte    `json:"fingerprint,omitempty"`
	ParentDbid   int64     `json:"parentDbid"`
	RemoteHandle string    `json:"remoteHandle,omitempty"`
}

// Serialize produces the plaintext record for n. The caller (StateCache)
// is responsible for sealing the returned bytes before writing them.
func (n *Node) Serialize() ([]byte, error) {
	n.mu.Lock()
	rec := Record{
		Kind:        n.kind,
		LocalName:   n.localName,
		Size:        n.size,
		Mtime:       n.mtime,
		Fsid:        uint64(n.fsid),
		HasFsid:     n.hasFsid,
		Fingerprint: n.fingerprint,
	}
	if n.parent != nil {
		rec.ParentDbid = n.parent.Dbid()
	}
	if ref, ok := n.remoteRef.(RemoteRef); ok && ref != nil {
		rec.RemoteHandle = ref.Handle()
	}
	n.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("shadowtree: serialize node: %w", err)
	}
	return data, nil
}

// Deserialize decodes a plaintext record produced by Serialize into a
// detached Node: it carries parentDbid for the caller to bucket by, but is
// not installed under any parent. resolve, if non-nil, is used to rebuild
// remoteRef from the persisted handle.
func (t *Tree) Deserialize(data []byte, resolve RemoteRefResolver) (*Node, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("shadowtree: deserialize node: %w", err)
	}

	n := &Node{
		tree:       t,
		kind:       rec.Kind,
		localName:  rec.LocalName,
		size:       rec.Size,
		mtime:      rec.Mtime,
		fingerprint: rec.Fingerprint,
		parentDbid: rec.ParentDbid,
	}
	if rec.HasFsid {
		n.fsid = fsadapter.Fsid(rec.Fsid)
		n.hasFsid = true
	}
	if rec.RemoteHandle != "" && resolve != nil {
		n.remoteRef = resolve(rec.RemoteHandle)
	}
	return n, nil
}
