package syncengine

import "pixelgardenlabs.io/localsync/pkg/shadowtree"

// Callbacks is the upward interface the engine drives as it reconciles the
// shadow tree. SyncUpdateState reports each lifecycle transition; a
// reconciled path produces at most one SyncUpdateLocal* call for its
// classified change. SyncSyncable is the sole downward query, consulted
// for paths outside debris that the configured exclusion sets let through.
type Callbacks interface {
	SyncUpdateState(newState State)
	SyncUpdateLocalFolderAddition(node *shadowtree.Node, displayPath string)
	SyncUpdateLocalFileAddition(node *shadowtree.Node, displayPath string)
	SyncUpdateLocalFileChange(node *shadowtree.Node, displayPath string)
	SyncUpdateLocalMove(node *shadowtree.Node, displayPath string)
	// SyncSyncable decides whether name (with parentPath as its containing
	// directory) should be tracked at all. Called only for paths the
	// configured exclusion sets have not already rejected.
	SyncSyncable(name, parentPath, localName string) bool
}

// NopCallbacks implements Callbacks with no-ops, useful for tests that
// only care about the resulting shadow tree, not the emitted events.
type NopCallbacks struct{}

func (NopCallbacks) SyncUpdateState(State)                                        {}
func (NopCallbacks) SyncUpdateLocalFolderAddition(*shadowtree.Node, string)        {}
func (NopCallbacks) SyncUpdateLocalFileAddition(*shadowtree.Node, string)          {}
func (NopCallbacks) SyncUpdateLocalFileChange(*shadowtree.Node, string)            {}
func (NopCallbacks) SyncUpdateLocalMove(*shadowtree.Node, string)                  {}
func (NopCallbacks) SyncSyncable(name, parentPath, localName string) bool          { return true }

var _ Callbacks = NopCallbacks{}
