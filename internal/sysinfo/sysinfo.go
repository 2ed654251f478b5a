// Package sysinfo implements the system.* query handlers: host identity,
// environment lookups, path expansion, filesystem capacity and group
// membership.
package sysinfo

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/scrypster/remoted/pkg/types"
)

// Info is the system.info result.
type Info struct {
	Version  string `json:"version"`
	OS       string `json:"os"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
	UID      int    `json:"uid"`
	GID      int    `json:"gid"`
	Home     string `json:"home"`
	User     string `json:"user"`
}

// Group is one entry of the system.groups result.
type Group struct {
	GID  int    `json:"gid"`
	Name string `json:"name,omitempty"`
}

// StatVFS is the system.statvfs result. All figures are bytes, not blocks.
type StatVFS struct {
	TotalBytes     uint64 `json:"total_bytes"`
	FreeBytes      uint64 `json:"free_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

// GetInfo collects host identity for system.info. $HOME and $USER take
// precedence; the user database fills the gaps.
func GetInfo() Info {
	info := Info{
		Version: types.Version,
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		UID:     os.Getuid(),
		GID:     os.Getgid(),
		Home:    os.Getenv("HOME"),
		User:    os.Getenv("USER"),
	}
	info.Hostname, _ = os.Hostname()
	if info.Home == "" || info.User == "" {
		if u, err := user.Current(); err == nil {
			if info.Home == "" {
				info.Home = u.HomeDir
			}
			if info.User == "" {
				info.User = u.Username
			}
		}
	}
	return info
}

// Getenv resolves each requested name to its value, or null when unset.
func Getenv(names []string) map[string]*string {
	values := make(map[string]*string, len(names))
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok {
			val := v
			values[name] = &val
		} else {
			values[name] = nil
		}
	}
	return values
}

// ExpandPath expands ~ and ~user prefixes and makes the result absolute
// and clean.
func ExpandPath(path string) (string, error) {
	switch {
	case path == "~" || strings.HasPrefix(path, "~/"):
		u, err := user.Current()
		if err != nil {
			return "", err
		}
		path = filepath.Join(u.HomeDir, strings.TrimPrefix(path[1:], "/"))
	case strings.HasPrefix(path, "~"):
		name, rest, _ := strings.Cut(path[1:], "/")
		u, err := user.Lookup(name)
		if err != nil {
			return "", err
		}
		path = filepath.Join(u.HomeDir, rest)
	}
	return filepath.Abs(path)
}

// Statvfs reports capacity of the filesystem holding path, in bytes.
func Statvfs(path string) (*StatVFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return nil, err
	}
	bsize := uint64(st.Bsize)
	return &StatVFS{
		TotalBytes:     st.Blocks * bsize,
		FreeBytes:      st.Bfree * bsize,
		AvailableBytes: st.Bavail * bsize,
	}, nil
}

// Groups lists the supplementary groups of the server process. Unresolvable
// GIDs are still listed, just without a name.
func Groups() ([]Group, error) {
	gids, err := os.Getgroups()
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(gids))
	for _, gid := range gids {
		g := Group{GID: gid}
		if grp, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
			g.Name = grp.Name
		}
		groups = append(groups, g)
	}
	return groups, nil
}
