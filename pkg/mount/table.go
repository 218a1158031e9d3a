package mount

import (
	er "lomount/errors"

	"github.com/moby/sys/mountinfo"
)

// TableEntry is one row of the active mount table snapshot.
type TableEntry struct {
	Source  string
	Target  string
	FSType  string
	Options string
}

// ListMounts parses the kernel's live mount table and returns a snapshot.
// The table is an external authority that changes outside this process;
// the snapshot is only valid at the moment it was taken.
func ListMounts() ([]TableEntry, error) {
	infos, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, er.Wrap("read mount table", "/proc/self/mountinfo", err)
	}
	return tableFromInfos(infos), nil
}

// Mounted reports whether path is a mount point in the current table.
func Mounted(path string) (bool, error) {
	ok, err := mountinfo.Mounted(path)
	if err != nil {
		return false, er.Wrap("read mount table", path, err)
	}
	return ok, nil
}

func tableFromInfos(infos []*mountinfo.Info) []TableEntry {
	entries := make([]TableEntry, 0, len(infos))
	for _, info := range infos {
		options := info.Options
		if info.VFSOptions != "" {
			if options != "" {
				options += ","
			}
			options += info.VFSOptions
		}
		entries = append(entries, TableEntry{
			Source:  info.Source,
			Target:  info.Mountpoint,
			FSType:  info.FSType,
			Options: options,
		})
	}
	return entries
}
