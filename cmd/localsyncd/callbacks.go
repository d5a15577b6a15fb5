package main

import (
	"pixelgardenlabs.io/localsync/pkg/plog"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
	"pixelgardenlabs.io/localsync/pkg/syncengine"
)

// remoteHandle is the placeholder RemoteRef this daemon binds to a freshly
// discovered folder. A real deployment replaces this with whatever handle
// its remote-side coordinator returns after creating the folder there;
// binding one immediately here means a bare local run never wedges behind
// the parent-missing gate waiting for a coordinator that doesn't exist.
type remoteHandle struct{ path string }

func (r remoteHandle) Handle() string { return r.path }

// daemonCallbacks logs every reconciliation event at info level and stands
// in for the remote coordinator a full bidirectional client would supply.
type daemonCallbacks struct{}

func (daemonCallbacks) SyncUpdateState(newState syncengine.State) {
	plog.Info("sync state changed", "state", newState.String())
}

func (daemonCallbacks) SyncUpdateLocalFolderAddition(node *shadowtree.Node, displayPath string) {
	node.SetRemoteRef(remoteHandle{path: displayPath})
	plog.Info("local folder added", "path", displayPath)
}

func (daemonCallbacks) SyncUpdateLocalFileAddition(node *shadowtree.Node, displayPath string) {
	plog.Info("local file added", "path", displayPath)
}

func (daemonCallbacks) SyncUpdateLocalFileChange(node *shadowtree.Node, displayPath string) {
	plog.Info("local file changed", "path", displayPath)
}

func (daemonCallbacks) SyncUpdateLocalMove(node *shadowtree.Node, displayPath string) {
	plog.Info("local move detected", "path", displayPath)
}

func (daemonCallbacks) SyncSyncable(name, parentPath, localName string) bool {
	return true
}

var _ syncengine.Callbacks = daemonCallbacks{}

// resolveRemoteRef reconstructs a remoteHandle from its persisted string on
// StateCache reload, so nodes restored from a prior run don't re-trip the
// parent-missing gate either.
func resolveRemoteRef(handle string) any {
	return remoteHandle{path: handle}
}
