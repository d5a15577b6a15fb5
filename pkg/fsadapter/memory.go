package fsadapter

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/spf13/afero"
)

// MemAdapter is an in-memory Adapter backed by afero, used by tests that
// need a filesystem without touching disk. afero's MemMapFs has no real
// inodes, so MemAdapter hands out synthetic fsids itself and keeps them
// stable across a path's lifetime with Rename, matching how a real
// filesystem preserves a file's identity across a move.
type MemAdapter struct {
	Fs afero.Fs

	mu     sync.Mutex
	fsids  map[string]Fsid
	nextID Fsid
}

// NewMemAdapter returns a MemAdapter backed by a fresh in-memory filesystem.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{
		Fs:     afero.NewMemMapFs(),
		fsids:  make(map[string]Fsid),
		nextID: 1,
	}
}

// Rename moves a path within the backing filesystem and carries its fsid
// (and the fsids of anything nested beneath it) to the new location, the
// way a real move preserves inode numbers.
func (m *MemAdapter) Rename(oldPath, newPath string) error {
	if err := m.Fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("fsadapter: rename %s -> %s: %w", oldPath, newPath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for path, id := range m.fsids {
		if path == oldPath {
			delete(m.fsids, path)
			m.fsids[newPath] = id
			continue
		}
		if rest, ok := cutPrefix(path, oldPath+"/"); ok {
			delete(m.fsids, path)
			m.fsids[newPath+"/"+rest] = id
		}
	}
	return nil
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

func (m *MemAdapter) fsidFor(path string) Fsid {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.fsids[path]; ok {
		return id
	}
	id := m.nextID
	m.nextID++
	m.fsids[path] = id
	return id
}

func (m *MemAdapter) Lstat(path string) (Info, error) {
	info, err := m.Fs.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("fsadapter: lstat %s: %w", path, err)
	}

	mode := info.Mode()
	if lsFs, ok := m.Fs.(afero.Lstater); ok {
		if linfo, _, lerr := lsFs.LstatIfPossible(path); lerr == nil {
			mode = linfo.Mode()
		}
	}

	return Info{
		Fsid:      m.fsidFor(path),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Mode:      mode,
		IsDir:     info.IsDir(),
		IsSymlink: mode&fs.ModeSymlink != 0,
	}, nil
}

func (m *MemAdapter) ReadDirNames(path string) ([]string, error) {
	f, err := m.Fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fsadapter: open dir %s: %w", path, err)
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("fsadapter: readdir %s: %w", path, err)
	}
	return names, nil
}

func (m *MemAdapter) ReadSample(path string, buf []byte) (int, error) {
	f, err := m.Fs.Open(path)
	if err != nil {
		return 0, fmt.Errorf("fsadapter: open %s: %w", path, err)
	}
	defer f.Close()

	n, err := f.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("fsadapter: read %s: %w", path, err)
	}
	return n, nil
}

// Readlink is unsupported: afero's in-memory filesystem has no symlink
// concept, so tests exercising symlink handling must use a real Adapter.
func (m *MemAdapter) Readlink(path string) (string, error) {
	return "", fmt.Errorf("fsadapter: readlink %s: %w", path, errReadlinkUnsupported)
}

var errReadlinkUnsupported = errors.New("symlinks are not supported by MemAdapter")

var _ Adapter = (*MemAdapter)(nil)
