package syncengine

import "pixelgardenlabs.io/localsync/pkg/shadowtree"

// deleteMissing walks subtree and destroys any node whose scanSeqNo lags
// the engine's current sequence by more than one pass, per §4.9. It is
// invoked once at the end of every fullscan; incremental reconciliation
// relies on per-node notSeenCount instead.
func (e *Engine) deleteMissing(subtree *shadowtree.Node) {
	for _, child := range subtree.Children() {
		if e.currentSeq-child.ScanSeqNo() > 1 {
			child.Destroy()
			e.cache.Del(child)
			continue
		}
		if child.Kind() == shadowtree.Folder {
			e.deleteMissing(child)
		}
	}
}
