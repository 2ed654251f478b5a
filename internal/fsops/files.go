package fsops

import (
	"io"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

// Read returns up to length bytes of path starting at offset. A negative
// length means "to end of file".
func (o *Ops) Read(path string, offset int64, length int64) ([]byte, error) {
	f, err := o.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	if length < 0 {
		return io.ReadAll(f)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return buf[:n], err
}

// Write stores content into path and returns the number of bytes written.
// mode applies on creation (0 means 0644). append and offset are mutually
// exclusive refinements: append adds at the end, offset writes at a fixed
// position (creating the file empty first when it does not exist).
// A plain write truncates.
func (o *Ops) Write(path string, content []byte, mode os.FileMode, appendTo bool, offset int64) (int, error) {
	if mode == 0 {
		mode = 0o644
	}
	flags := os.O_WRONLY | os.O_CREATE
	switch {
	case appendTo:
		flags |= os.O_APPEND
	case offset < 0:
		flags |= os.O_TRUNC
	}
	f, err := o.fs.OpenFile(path, flags, mode)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if !appendTo && offset >= 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return 0, err
		}
	}
	return f.Write(content)
}

// Copy duplicates the contents of source into destination, truncating any
// existing destination. With preserveModes the source permission bits are
// applied to the destination as well.
func (o *Ops) Copy(source, destination string, preserveModes bool) error {
	src, err := o.fs.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return err
	}

	dst, err := o.fs.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	if preserveModes {
		return o.fs.Chmod(destination, fi.Mode().Perm())
	}
	return nil
}

// Rename moves oldpath to newpath, replacing newpath if present.
func (o *Ops) Rename(oldpath, newpath string) error {
	return o.fs.Rename(oldpath, newpath)
}

// Delete removes the file at path.
func (o *Ops) Delete(path string) error {
	return o.fs.Remove(path)
}

// SetModes changes the permission bits of path.
func (o *Ops) SetModes(path string, mode os.FileMode) error {
	return o.fs.Chmod(path, mode)
}

// SetTimes sets access and modification times from integer epoch seconds.
// A negative value selects the current time.
func (o *Ops) SetTimes(path string, atime, mtime int64) error {
	return o.fs.Chtimes(path, epochTime(atime), epochTime(mtime))
}

func epochTime(sec int64) time.Time {
	if sec < 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

// MakeSymlink creates a symbolic link at linkname pointing to target.
func (o *Ops) MakeSymlink(target, linkname string) error {
	if lk, ok := o.fs.(afero.Linker); ok {
		return lk.SymlinkIfPossible(target, linkname)
	}
	return os.Symlink(target, linkname)
}

// MakeHardlink creates a hard link at linkname for target. afero has no
// hard-link surface, so this always goes to the host filesystem.
func (o *Ops) MakeHardlink(target, linkname string) error {
	return os.Link(target, linkname)
}

// Chown changes ownership of path. Owner and group may be given as numeric
// IDs or as names; -1 leaves the corresponding ID unchanged.
func (o *Ops) Chown(path string, uid, gid int, owner, group string) error {
	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return err
		}
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return err
		}
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return err
		}
	}
	return o.fs.Chown(path, uid, gid)
}
