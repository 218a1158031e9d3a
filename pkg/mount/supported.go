package mount

import (
	"bufio"
	"io"
	"os"
	"strings"

	defs "lomount/definitions"
	er "lomount/errors"
)

// FilesystemEntry is one row of the kernel's filesystem registry.
type FilesystemEntry struct {
	// Name is the filesystem type name as registered with the kernel.
	Name string
	// RequiresDevice is false for pseudo-filesystems ("nodev" in the
	// registry), which mount arbitrary sources.
	RequiresDevice bool
}

// Supported is a snapshot of the filesystems the running kernel can mount.
// The registry can change between calls (module load/unload), so snapshots
// are taken fresh per mount attempt sequence and never cached.
type Supported struct {
	entries []FilesystemEntry
}

// SupportedFilesystems reads /proc/filesystems and returns a snapshot.
func SupportedFilesystems() (*Supported, error) {
	f, err := os.Open(defs.ProcFilesystems)
	if err != nil {
		return nil, er.Wrap("read filesystem registry", defs.ProcFilesystems, err)
	}
	defer f.Close()
	return parseFilesystems(f)
}

// parseFilesystems scans the line-oriented "[nodev] name" registry format.
// Duplicate names keep their first position so ordering stays the
// kernel's registration order, which is best-effort priority only.
func parseFilesystems(r io.Reader) (*Supported, error) {
	entries := make([]FilesystemEntry, 0, 64)
	seen := make(map[string]struct{}, 64)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		var entry FilesystemEntry
		switch {
		case len(fields) == 1:
			entry = FilesystemEntry{Name: fields[0], RequiresDevice: true}
		case len(fields) == 2 && fields[0] == "nodev":
			entry = FilesystemEntry{Name: fields[1]}
		default:
			continue
		}
		if _, dup := seen[entry.Name]; dup {
			continue
		}
		seen[entry.Name] = struct{}{}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, er.Wrap("read filesystem registry", defs.ProcFilesystems, err)
	}
	return &Supported{entries: entries}, nil
}

// IsSupported reports whether the named filesystem is in the snapshot.
func (s *Supported) IsSupported(name string) bool {
	for _, e := range s.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Entries returns a copy of the snapshot rows in registration order.
func (s *Supported) Entries() []FilesystemEntry {
	out := make([]FilesystemEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Dev returns the device-backed filesystem names in registration order.
// These are the auto-detection candidates: a pseudo-filesystem would
// accept any source and mask the real match.
func (s *Supported) Dev() []string {
	var names []string
	for _, e := range s.entries {
		if e.RequiresDevice {
			names = append(names, e.Name)
		}
	}
	return names
}

// Nodev returns the pseudo-filesystem names in registration order.
func (s *Supported) Nodev() []string {
	var names []string
	for _, e := range s.entries {
		if !e.RequiresDevice {
			names = append(names, e.Name)
		}
	}
	return names
}
