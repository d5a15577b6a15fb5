//go:build linux

package fsadapter

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// OSAdapter reads the real filesystem via the standard library, using
// golang.org/x/sys/unix directly for the Stat_t fields (Dev, Ino) the
// standard library doesn't expose portably.
type OSAdapter struct{}

// NewOSAdapter returns an Adapter backed by the local filesystem.
func NewOSAdapter() *OSAdapter {
	return &OSAdapter{}
}

func (OSAdapter) Lstat(path string) (Info, error) {
	var stat unix.Stat_t
	if err := unix.Lstat(path, &stat); err != nil {
		return Info{}, fmt.Errorf("fsadapter: lstat %s: %w", path, err)
	}

	mode := fs.FileMode(stat.Mode & 0777)
	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		mode |= fs.ModeDir
	case unix.S_IFLNK:
		mode |= fs.ModeSymlink
	}

	return Info{
		Fsid:      combineDevIno(uint64(stat.Dev), stat.Ino),
		Size:      stat.Size,
		ModTime:   statTimeToTime(stat),
		Mode:      mode,
		IsDir:     mode.IsDir(),
		IsSymlink: mode&fs.ModeSymlink != 0,
	}, nil
}

func (OSAdapter) ReadDirNames(path string) ([]string, error) {
	f, err := os.Open(path)
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

func (OSAdapter) ReadSample(path string, buf []byte) (int, error) {
	f, err := os.Open(path)
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

func (OSAdapter) Readlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("fsadapter: readlink %s: %w", path, err)
	}
	return target, nil
}

// combineDevIno mixes a device id and inode number into a single Fsid.
// Multiplying dev by an odd constant before XOR-ing spreads its bits across
// the whole 64-bit range so devices that differ only in their low bits
// (common for partitions on the same disk) don't collide with unrelated
// inode numbers.
func combineDevIno(dev, ino uint64) Fsid {
	return Fsid((dev * 1099511628211) ^ ino)
}

func statTimeToTime(stat unix.Stat_t) time.Time {
	return time.Unix(int64(stat.Mtim.Sec), int64(stat.Mtim.Nsec))
}
