package mount

import (
	"strings"

	er "lomount/errors"

	"golang.org/x/sys/unix"
)

// MountFlags is the flag word passed to mount(2). Flags that only make
// sense on the unmount path live in UnmountFlags; the two types cannot be
// mixed, which makes the invalid combination unrepresentable.
type MountFlags uintptr

const (
	// ReadOnly mounts the filesystem read-only.
	ReadOnly MountFlags = unix.MS_RDONLY
	// NoSuid ignores set-user-ID and set-group-ID bits.
	NoSuid MountFlags = unix.MS_NOSUID
	// NoDev disallows access to device special files.
	NoDev MountFlags = unix.MS_NODEV
	// NoExec disallows program execution.
	NoExec MountFlags = unix.MS_NOEXEC
	// Synchronous makes writes synchronous.
	Synchronous MountFlags = unix.MS_SYNCHRONOUS
	// Remount alters the flags of an existing mount in place.
	Remount MountFlags = unix.MS_REMOUNT
	// MandLock permits mandatory locking.
	MandLock MountFlags = unix.MS_MANDLOCK
	// DirSync makes directory changes synchronous.
	DirSync MountFlags = unix.MS_DIRSYNC
	// NoAtime never updates access times.
	NoAtime MountFlags = unix.MS_NOATIME
	// NoDirAtime never updates directory access times.
	NoDirAtime MountFlags = unix.MS_NODIRATIME
	// Bind makes a file or subtree visible at another point.
	Bind MountFlags = unix.MS_BIND
	// Move atomically relocates an existing mount.
	Move MountFlags = unix.MS_MOVE
	// Recursive applies Bind (or a propagation change) to the whole
	// subtree.
	Recursive MountFlags = unix.MS_REC
	// Silent suppresses certain kernel warning messages.
	Silent MountFlags = unix.MS_SILENT
	// Relatime updates atime relative to mtime/ctime.
	Relatime MountFlags = unix.MS_RELATIME
	// StrictAtime always updates atime.
	StrictAtime MountFlags = unix.MS_STRICTATIME
)

// PropagationFlags control how mount events travel between namespaces.
// They are applied with a separate remount-style call, never mixed into a
// regular mount request.
type PropagationFlags uintptr

const (
	Shared     PropagationFlags = unix.MS_SHARED
	Slave      PropagationFlags = unix.MS_SLAVE
	Private    PropagationFlags = unix.MS_PRIVATE
	Unbindable PropagationFlags = unix.MS_UNBINDABLE
)

// UnmountFlags is the flag word passed to umount2(2).
type UnmountFlags int

const (
	// Force unmounts even if busy. Can cause data loss; NFS only.
	Force UnmountFlags = unix.MNT_FORCE
	// Detach performs a lazy unmount: the mount point disappears
	// immediately, the underlying release happens when it ceases to be
	// busy.
	Detach UnmountFlags = unix.MNT_DETACH
	// Expire marks the mount point as expired; a second call with this
	// flag unmounts it. Cannot be combined with Force or Detach.
	Expire UnmountFlags = unix.MNT_EXPIRE
	// NoFollow refuses to dereference a symlink target.
	NoFollow UnmountFlags = unix.UMOUNT_NOFOLLOW
)

// Has reports whether every bit of flag is set.
func (f MountFlags) Has(flag MountFlags) bool {
	return f&flag == flag
}

// Has reports whether every bit of flag is set.
func (f UnmountFlags) Has(flag UnmountFlags) bool {
	return f&flag == flag
}

// Validate rejects flag combinations the kernel cannot honor.
// fstypeChange indicates that the request also names an explicit
// filesystem type.
func (f MountFlags) Validate(fstypeChange bool) error {
	if f.Has(Bind) && f.Has(Remount) && fstypeChange {
		return er.New(er.Invalid, "mount", "",
			"bind+remount cannot change the filesystem type")
	}
	if f.Has(Move) && (f.Has(Bind) || f.Has(Remount)) {
		return er.New(er.Invalid, "mount", "",
			"move cannot be combined with bind or remount")
	}
	return nil
}

// Validate enforces the umount2(2) rule that Expire excludes Force and
// Detach.
func (f UnmountFlags) Validate() error {
	if f.Has(Expire) && (f.Has(Force) || f.Has(Detach)) {
		return er.New(er.Invalid, "umount", "",
			"expire cannot be combined with force or detach")
	}
	return nil
}

// optionBits maps fstab-style option tokens onto mount(2) flag bits.
// Negations clear the corresponding bit.
var optionBits = map[string]struct {
	set   MountFlags
	clear MountFlags
}{
	"defaults":      {},
	"ro":            {set: ReadOnly},
	"rw":            {clear: ReadOnly},
	"nosuid":        {set: NoSuid},
	"suid":          {clear: NoSuid},
	"nodev":         {set: NoDev},
	"dev":           {clear: NoDev},
	"noexec":        {set: NoExec},
	"exec":          {clear: NoExec},
	"sync":          {set: Synchronous},
	"async":         {clear: Synchronous},
	"dirsync":       {set: DirSync},
	"remount":       {set: Remount},
	"mand":          {set: MandLock},
	"nomand":        {clear: MandLock},
	"noatime":       {set: NoAtime},
	"atime":         {clear: NoAtime},
	"nodiratime":    {set: NoDirAtime},
	"diratime":      {clear: NoDirAtime},
	"bind":          {set: Bind},
	"rbind":         {set: Bind | Recursive},
	"move":          {set: Move},
	"silent":        {set: Silent},
	"loud":          {clear: Silent},
	"relatime":      {set: Relatime},
	"norelatime":    {clear: Relatime},
	"strictatime":   {set: StrictAtime},
	"nostrictatime": {clear: StrictAtime},
}

// ComposeOptions translates symbolic option tokens into the mount(2) flag
// word plus the leftover data string. Tokens without a flag equivalent
// (`key` or `key=value`) are joined with commas in input order and passed
// through to the filesystem driver. Pure and deterministic: the same
// tokens always produce the same pair.
func ComposeOptions(tokens []string) (MountFlags, string, error) {
	var flags MountFlags
	var data []string
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if bits, ok := optionBits[token]; ok {
			flags |= bits.set
			flags &^= bits.clear
			continue
		}
		if strings.ContainsRune(token, ',') {
			return 0, "", er.New(er.Invalid, "mount", "",
				"option token contains a comma: "+token)
		}
		data = append(data, token)
	}
	return flags, strings.Join(data, ","), nil
}
