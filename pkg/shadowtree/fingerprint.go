package shadowtree

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"

	"pixelgardenlabs.io/localsync/pkg/fsadapter"
	"pixelgardenlabs.io/localsync/pkg/pool"
)

// sampleSize is how much of a file's content is read to build the sparse
// content fingerprint. Sampling the head of the file, rather than hashing
// the whole thing, keeps a full rescan of an unchanged tree cheap; the
// (size, mtime) pair still catches most changes, and the sample defeats
// the common case of a touch that only bumps mtime.
const sampleSize = 4096

// fingerprintPool supplies the scratch buffers genFingerprint reads file
// samples into, so a full-tree rescan doesn't allocate one buffer per
// file.
var fingerprintPool = pool.NewBucketedBufferPool(1024, 65536)

// GenFingerprint recomputes (size, mtime, sparse content hash) for a file
// node from freshly stat'd info, reading a bounded sample through fs when
// the file is non-empty. It reports whether any of size, mtime or the
// content fingerprint changed relative to what was previously stored.
func (n *Node) GenFingerprint(fs fsadapter.Adapter, path string, info fsadapter.Info) (changed bool, err error) {
	n.mu.Lock()
	prevSize := n.size
	prevMtime := n.mtime
	prevFp := n.fingerprint
	n.mu.Unlock()

	var newFp []byte
	if info.Size > 0 {
		bufPtr := fingerprintPool.Get(sampleSize)
		defer fingerprintPool.Put(bufPtr)
		buf := (*bufPtr)[:min64(sampleSize, info.Size)]

		read, rerr := fs.ReadSample(path, buf)
		if rerr != nil {
			return false, rerr
		}
		newFp = hashSample(info.Size, info.ModTime, buf[:read])
	} else {
		newFp = hashSample(info.Size, info.ModTime, nil)
	}

	changed = prevSize != info.Size || !prevMtime.Equal(info.ModTime) || !bytes.Equal(prevFp, newFp)

	n.mu.Lock()
	n.size = info.Size
	n.mtime = info.ModTime
	n.fingerprint = newFp
	n.mu.Unlock()

	return changed, nil
}

func hashSample(size int64, mtime time.Time, sample []byte) []byte {
	h := xxhash.New()

	var head [16]byte
	binary.BigEndian.PutUint64(head[0:8], uint64(size))
	binary.BigEndian.PutUint64(head[8:16], uint64(mtime.UnixNano()))
	h.Write(head[:])
	h.Write(sample)

	sum := h.Sum64()
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, sum)
	return out
}

func min64(a int64, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
