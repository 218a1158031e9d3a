// Package mount sequences kernel mount and unmount operations: composing
// flag words, detecting filesystem types against the kernel's registry,
// and coordinating loop device setup and teardown around the syscall.
package mount

import (
	"runtime"
	"unsafe"

	er "lomount/errors"
	log "lomount/logger"
	"lomount/pkg/loopback"

	"golang.org/x/sys/unix"
)

// loopdev is the part of the loopback device the orchestrator needs.
type loopdev interface {
	Path() string
	Detach() error
}

// Syscall seams, overridden in tests.
var (
	mountSyscall   = unix.Mount
	unmountSyscall = unix.Unmount
	// x/sys/unix has no Swapoff wrapper; invoke swapoff(2) directly.
	swapoffSyscall = func(path string) error {
		p, err := unix.BytePtrFromString(path)
		if err != nil {
			return err
		}
		_, _, errno := unix.Syscall(unix.SYS_SWAPOFF, uintptr(unsafe.Pointer(p)), 0, 0)
		if errno != 0 {
			return errno
		}
		return nil
	}

	attachLoop = func(spec loopback.Spec) (loopdev, error) {
		dev, err := loopback.Attach(spec)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
)

// Mount is the handle for a mounted filesystem. It owns the loop device
// the mount was backed by, if any: Unmount releases both, exactly once.
type Mount struct {
	target    string
	fstype    string
	source    string
	loop      loopdev
	unmounted bool
}

// Target returns the path the filesystem is mounted on.
func (m *Mount) Target() string {
	return m.target
}

// FSType returns the filesystem type the mount succeeded with. Useful
// when the type was auto-detected.
func (m *Mount) FSType() string {
	return m.fstype
}

// Source returns the source path as requested, before any loop device
// substitution.
func (m *Mount) Source() string {
	return m.source
}

// BackingLoopDevice returns the loop device node path backing this mount,
// or "" when the source was mounted directly.
func (m *Mount) BackingLoopDevice() string {
	if m.loop == nil {
		return ""
	}
	return m.loop.Path()
}

// New mounts source at target, auto-detecting the filesystem type from a
// fresh kernel registry snapshot. For more control use Builder.
func New(source, target string) (*Mount, error) {
	supported, err := SupportedFilesystems()
	if err != nil {
		return nil, err
	}
	return Builder().FSTypeFrom(supported).Mount(source, target)
}

// request carries one composed mount attempt sequence.
type request struct {
	source          string
	effectiveSource string
	target          string
	flags           MountFlags
	data            string
	loop            loopdev
}

// run issues the syscall attempts and builds the handle. fstype non-empty
// means a single explicit attempt; otherwise candidates are tried in
// order, each exactly once, accumulating per-candidate failures.
func (r *request) run(fstype string, candidates []string) (*Mount, error) {
	if fstype != "" {
		if err := r.attempt(fstype); err != nil {
			return nil, r.cleanup(er.WrapFS("mount", r.target, fstype, err))
		}
		return r.handle(fstype), nil
	}

	if len(candidates) == 0 {
		return nil, r.cleanup(er.New(er.Invalid, "mount", r.target,
			"no candidate filesystems to try"))
	}

	attempts := make([]er.Attempt, 0, len(candidates))
	for _, candidate := range candidates {
		err := r.attempt(candidate)
		if err == nil {
			return r.handle(candidate), nil
		}
		log.WithField("fstype", candidate).Debugf("mount attempt failed: %v", err)
		attempts = append(attempts, er.Attempt{FSType: candidate, Err: err})
	}
	return nil, r.cleanup(er.ExhaustedCandidates(r.target, attempts))
}

func (r *request) attempt(fstype string) error {
	return mountSyscall(r.effectiveSource, r.target, fstype, uintptr(r.flags), r.data)
}

// cleanup detaches a loop device attached for a mount that then failed.
// The mount failure stays primary; a detach failure is chained behind it.
func (r *request) cleanup(primary error) error {
	if r.loop == nil {
		return primary
	}
	if derr := r.loop.Detach(); derr != nil {
		log.WithError(derr).Warnf("failed to detach %s after mount failure", r.loop.Path())
		return er.WithSecondary(primary, derr)
	}
	return primary
}

func (r *request) handle(fstype string) *Mount {
	m := &Mount{
		target: r.target,
		fstype: fstype,
		source: r.source,
		loop:   r.loop,
	}
	// A handle dropped without Unmount leaks the mount and possibly a
	// loop device. There is no way to release it from a finalizer
	// safely, so warn instead of leaking silently.
	runtime.SetFinalizer(m, func(leaked *Mount) {
		log.Warnf("mount handle for %s dropped without unmount", leaked.target)
	})
	return m
}
