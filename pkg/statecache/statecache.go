// Package statecache persists the shadow tree across restarts. It keeps a
// durable, sealed table of (dbid -> serialized ShadowNode) plus two
// in-memory queues -- pending inserts and pending deletes -- that the sync
// engine drains on its own schedule rather than on every mutation, so a
// burst of local changes costs one transaction instead of one per node.
package statecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"pixelgardenlabs.io/localsync/pkg/plog"
	"pixelgardenlabs.io/localsync/pkg/seal"
	"pixelgardenlabs.io/localsync/pkg/shadowtree"
)

// FileName is the SQLite database file a StateCache keeps inside its cache
// directory, sitting alongside the metafile sidecar.
const FileName = "statecache.db"

// insertHighWaterMark is the pending-insert count that forces an
// out-of-band flush while the engine is still in its initial scan, so a
// large first pass doesn't hold an unbounded amount of unpersisted state
// in memory.
const insertHighWaterMark = 100

// StateCache is a keyed table of sealed ShadowNode records plus the
// insertQ/deleteQ sets a running SyncEngine mutates between flushes.
type StateCache struct {
	db     *sql.DB
	table  string
	sealer seal.Sealer
	tree   *shadowtree.Tree

	mu      sync.Mutex
	insertQ map[*shadowtree.Node]struct{}
	deleteQ map[int64]struct{}
}

// Open creates or attaches to the SQLite database at cacheDir/FileName,
// ensuring the named table exists, and returns a StateCache bound to tree
// for serialization. sealer encrypts every record at rest; pass
// seal.NopSealer{} to disable sealing.
func Open(ctx context.Context, cacheDir, table string, sealer seal.Sealer, tree *shadowtree.Tree) (*StateCache, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("statecache: create cache dir %s: %w", cacheDir, err)
	}

	dbPath := filepath.Join(cacheDir, FileName)
	db, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		return nil, fmt.Errorf("statecache: open %s: %w", dbPath, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statecache: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statecache: set busy timeout: %w", err)
	}

	createStmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (dbid INTEGER PRIMARY KEY AUTOINCREMENT, data BLOB NOT NULL)`,
		table,
	)
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("statecache: create table %s: %w", table, err)
	}

	return &StateCache{
		db:      db,
		table:   table,
		sealer:  sealer,
		tree:    tree,
		insertQ: make(map[*shadowtree.Node]struct{}),
		deleteQ: make(map[int64]struct{}),
	}, nil
}

// Close releases the underlying database handle.
func (c *StateCache) Close() error {
	return c.db.Close()
}

// Add queues node for persistence. If node was already queued for
// deletion, that deletion is cancelled first.
func (c *StateCache) Add(node *shadowtree.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dbid := node.Dbid(); dbid != 0 {
		delete(c.deleteQ, dbid)
	}
	c.insertQ[node] = struct{}{}
}

// Del removes node from the pending-insert set and, if it was ever
// persisted, queues its dbid for deletion on the next flush.
func (c *StateCache) Del(node *shadowtree.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.insertQ, node)
	if dbid := node.Dbid(); dbid != 0 {
		c.deleteQ[dbid] = struct{}{}
	}
}

// PendingInserts reports how many nodes are queued for persistence, used
// to decide whether an initial-scan flush is due.
func (c *StateCache) PendingInserts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.insertQ)
}

// ShouldFlush reports whether the engine should flush now: either queue is
// non-empty while active, or the insert queue has crossed the high-water
// mark during initial scan.
func (c *StateCache) ShouldFlush(active bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.insertQ) == 0 && len(c.deleteQ) == 0 {
		return false
	}
	if active {
		return true
	}
	return len(c.insertQ) >= insertHighWaterMark
}

// Flush applies queued deletes, then repeatedly persists any queued node
// whose parent is the tree root or already has a non-zero dbid, so a
// child never references an unpersisted parent. It runs in a single
// transaction; entries that still aren't ready to persist after the last
// pass are left in insertQ and reported as a durability warning rather
// than failing the whole flush.
func (c *StateCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	deletes := make([]int64, 0, len(c.deleteQ))
	for dbid := range c.deleteQ {
		deletes = append(deletes, dbid)
	}
	pending := make([]*shadowtree.Node, 0, len(c.insertQ))
	for n := range c.insertQ {
		pending = append(pending, n)
	}
	c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statecache: begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	deleteStmt := fmt.Sprintf(`DELETE FROM %s WHERE dbid = ?`, c.table)
	for _, dbid := range deletes {
		if _, err := tx.ExecContext(ctx, deleteStmt, dbid); err != nil {
			return fmt.Errorf("statecache: delete dbid %d: %w", dbid, err)
		}
	}

	remaining := pending
	for {
		var ready, notReady []*shadowtree.Node
		for _, n := range remaining {
			if parentReady(n) {
				ready = append(ready, n)
			} else {
				notReady = append(notReady, n)
			}
		}
		if len(ready) == 0 {
			remaining = notReady
			break
		}
		for _, n := range ready {
			if err := c.persistOne(ctx, tx, n); err != nil {
				return fmt.Errorf("statecache: persist node: %w", err)
			}
		}
		remaining = notReady
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statecache: commit flush: %w", err)
	}

	c.mu.Lock()
	for _, dbid := range deletes {
		delete(c.deleteQ, dbid)
	}
	for _, n := range pending {
		if !containsNode(remaining, n) {
			delete(c.insertQ, n)
		}
	}
	c.mu.Unlock()

	if len(remaining) > 0 {
		plog.Warn("statecache: flush left nodes unpersisted, parent not yet ready", "count", len(remaining))
	}

	return nil
}

func parentReady(n *shadowtree.Node) bool {
	parent := n.Parent()
	if parent == nil || parent.Parent() == nil {
		return true
	}
	return parent.Dbid() != 0
}

func containsNode(nodes []*shadowtree.Node, target *shadowtree.Node) bool {
	for _, n := range nodes {
		if n == target {
			return true
		}
	}
	return false
}

func (c *StateCache) persistOne(ctx context.Context, tx *sql.Tx, n *shadowtree.Node) error {
	plaintext, err := n.Serialize()
	if err != nil {
		return err
	}
	sealed, err := c.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal record: %w", err)
	}

	if dbid := n.Dbid(); dbid != 0 {
		updateStmt := fmt.Sprintf(`UPDATE %s SET data = ? WHERE dbid = ?`, c.table)
		_, err := tx.ExecContext(ctx, updateStmt, sealed, dbid)
		return err
	}

	insertStmt := fmt.Sprintf(`INSERT INTO %s (data) VALUES (?)`, c.table)
	res, err := tx.ExecContext(ctx, insertStmt, sealed)
	if err != nil {
		return err
	}
	dbid, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.SetDbid(dbid)
	return nil
}

// Reload reads every row of the table, unseals and deserializes it, and
// reattaches the resulting detached nodes into the cache's tree via
// shadowtree.Tree.ReloadAttach.
func (c *StateCache) Reload(ctx context.Context, resolve shadowtree.RemoteRefResolver) (attached, truncated int, err error) {
	query := fmt.Sprintf(`SELECT dbid, data FROM %s`, c.table)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return 0, 0, fmt.Errorf("statecache: query rows for reload: %w", err)
	}
	defer rows.Close()

	var records []shadowtree.ReloadRecord
	for rows.Next() {
		var dbid int64
		var sealed []byte
		if err := rows.Scan(&dbid, &sealed); err != nil {
			return 0, 0, fmt.Errorf("statecache: scan row: %w", err)
		}

		plaintext, err := c.sealer.Open(sealed)
		if err != nil {
			plog.Warn("statecache: dropping unreadable record during reload", "dbid", dbid, "error", err)
			continue
		}

		node, err := c.tree.Deserialize(plaintext, resolve)
		if err != nil {
			plog.Warn("statecache: dropping malformed record during reload", "dbid", dbid, "error", err)
			continue
		}

		records = append(records, shadowtree.ReloadRecord{Dbid: dbid, Node: node})
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("statecache: iterate reload rows: %w", err)
	}

	attached, truncated = c.tree.ReloadAttach(records)
	if truncated > 0 {
		plog.Warn("statecache: reload truncated a subtree deeper than the recursion cap", "truncated", truncated)
	}
	return attached, truncated, nil
}
