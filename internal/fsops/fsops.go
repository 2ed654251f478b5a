// Package fsops implements the leaf file and directory handlers. All
// operations run against an injected afero.Fs so tests can point them at a
// scratch tree; production uses the OS filesystem.
//
// Handlers return plain OS errors (*os.PathError and friends); the RPC layer
// owns the translation into JSON-RPC error codes.
package fsops

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/pkg/types"
)

// Ops bundles the leaf handlers around a filesystem implementation.
type Ops struct {
	fs afero.Fs
}

// New returns an Ops backed by the given filesystem.
func New(fs afero.Fs) *Ops {
	return &Ops{fs: fs}
}

// NewOS returns an Ops backed by the host filesystem.
func NewOS() *Ops {
	return New(afero.NewOsFs())
}

// Stat returns the attribute record for path without following a final
// symlink. For symlinks whose target is readable, LinkTarget is populated.
func (o *Ops) Stat(path string) (*types.FileAttrs, error) {
	fi, err := o.lstat(path)
	if err != nil {
		return nil, err
	}
	attrs := attrsFromInfo(fi)
	if attrs.Type == types.TypeSymlink {
		if target, err := o.readlink(path); err == nil {
			attrs.LinkTarget = target
		}
	}
	return attrs, nil
}

// Exists reports whether path exists (following symlinks).
func (o *Ops) Exists(path string) bool {
	return unix.Access(path, unix.F_OK) == nil
}

// Readable reports whether the server process may read path.
func (o *Ops) Readable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}

// Writable reports whether the server process may write path.
func (o *Ops) Writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// Executable reports whether the server process may execute path.
func (o *Ops) Executable(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}

// Truename resolves path to an absolute name with all symlinks expanded.
func (o *Ops) Truename(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// NewerThan reports whether file1 was modified more recently than file2.
// A missing file1 is never newer; a missing file2 makes an existing file1
// newer by definition.
func (o *Ops) NewerThan(file1, file2 string) (bool, error) {
	fi1, err := o.fs.Stat(file1)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	fi2, err := o.fs.Stat(file2)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return fi1.ModTime().After(fi2.ModTime()), nil
}

// lstat uses the filesystem's Lstat when it has one, falling back to Stat.
func (o *Ops) lstat(path string) (os.FileInfo, error) {
	if l, ok := o.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(path)
		return fi, err
	}
	return o.fs.Stat(path)
}

func (o *Ops) readlink(path string) (string, error) {
	if lr, ok := o.fs.(afero.LinkReader); ok {
		return lr.ReadlinkIfPossible(path)
	}
	return os.Readlink(path)
}

// attrsFromInfo builds the wire attribute record from a FileInfo. The raw
// stat structure supplies link counts, owner IDs, inode/device numbers and
// the access/change timestamps; filesystems without one (in-memory test
// trees) get the portable subset.
func attrsFromInfo(fi os.FileInfo) *types.FileAttrs {
	attrs := &types.FileAttrs{
		Type:  fileType(fi.Mode()),
		Size:  fi.Size(),
		Mtime: fi.ModTime().Unix(),
		Mode:  uint32(toStatMode(fi.Mode())),
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		attrs.NLinks = 1
		attrs.Atime = attrs.Mtime
		attrs.Ctime = attrs.Mtime
		return attrs
	}
	attrs.NLinks = uint64(st.Nlink)
	attrs.UID = st.Uid
	attrs.GID = st.Gid
	attrs.Atime = st.Atim.Sec
	attrs.Mtime = st.Mtim.Sec
	attrs.Ctime = st.Ctim.Sec
	attrs.Mode = uint32(st.Mode)
	attrs.Inode = st.Ino
	attrs.Dev = uint64(st.Dev)
	if u, err := user.LookupId(strconv.FormatUint(uint64(st.Uid), 10)); err == nil {
		attrs.Uname = u.Username
	}
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(st.Gid), 10)); err == nil {
		attrs.Gname = g.Name
	}
	return attrs
}

func fileType(mode os.FileMode) types.FileType {
	switch {
	case mode.IsRegular():
		return types.TypeFile
	case mode.IsDir():
		return types.TypeDirectory
	case mode&os.ModeSymlink != 0:
		return types.TypeSymlink
	case mode&os.ModeCharDevice != 0:
		return types.TypeCharDevice
	case mode&os.ModeDevice != 0:
		return types.TypeBlockDevice
	case mode&os.ModeNamedPipe != 0:
		return types.TypeFIFO
	case mode&os.ModeSocket != 0:
		return types.TypeSocket
	default:
		return types.TypeUnknown
	}
}

// toStatMode reconstructs raw stat mode bits from an os.FileMode for
// filesystems that do not expose the underlying stat structure.
func toStatMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode.IsDir():
		m |= unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		m |= unix.S_IFLNK
	case mode&os.ModeCharDevice != 0:
		m |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= unix.S_IFBLK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	default:
		m |= unix.S_IFREG
	}
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}
