package fsops

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/scrypster/remoted/pkg/types"
)

// DirEntry is one row of a dir.list result. Attrs is only populated when the
// caller asked for attributes.
type DirEntry struct {
	Name  string           `json:"name"`
	Attrs *types.FileAttrs `json:"attrs,omitempty"`
}

// List returns the entries of directory sorted by name. With includeHidden
// the "." and ".." pseudo-entries are prepended. With includeAttrs each
// entry carries its lstat record; entries that cannot be stat'ed (racing
// deletes) are listed without attributes rather than failing the call.
func (o *Ops) List(directory string, includeHidden, includeAttrs bool) ([]DirEntry, error) {
	infos, err := afero.ReadDir(o.fs, directory)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos)+2)
	if includeHidden {
		names = append(names, ".", "..")
	}
	for _, fi := range infos {
		names = append(names, fi.Name())
	}

	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		entry := DirEntry{Name: name}
		if includeAttrs {
			full := filepath.Join(directory, name)
			if attrs, err := o.Stat(full); err == nil {
				entry.Attrs = attrs
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CreateDir makes a directory. With parents missing ancestors are created
// as well (mkdir -p semantics). mode 0 defaults to 0755.
func (o *Ops) CreateDir(path string, parents bool, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o755
	}
	if parents {
		return o.fs.MkdirAll(path, mode)
	}
	return o.fs.Mkdir(path, mode)
}

// RemoveDir removes a directory; recursive removes contents first.
func (o *Ops) RemoveDir(path string, recursive bool) error {
	if recursive {
		return o.fs.RemoveAll(path)
	}
	return o.fs.Remove(path)
}

// Completions returns the names in directory that begin with prefix, sorted,
// with directories suffixed by "/".
func (o *Ops) Completions(directory, prefix string) ([]string, error) {
	infos, err := afero.ReadDir(o.fs, directory)
	if err != nil {
		return nil, err
	}
	completions := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if fi.IsDir() {
			name += "/"
		}
		completions = append(completions, name)
	}
	sort.Strings(completions)
	return completions, nil
}
