package mount

import (
	"runtime"

	er "lomount/errors"
	log "lomount/logger"
)

// Unmount detaches the filesystem mounted at target. It does not release
// any loop device; use the Mount handle for that.
func Unmount(target string, flags UnmountFlags) error {
	if target == "" {
		return er.New(er.Invalid, "umount", "", "empty target path")
	}
	if err := flags.Validate(); err != nil {
		return err
	}
	if err := unmountSyscall(target, int(flags)); err != nil {
		return er.Wrap("umount", target, err)
	}
	return nil
}

// Unmount detaches the filesystem and then releases the owned loop device.
// The order matters: the kernel keeps the loop device open while the mount
// exists, so detaching first would fail. The handle is consumed; a second
// call fails with Busy.
func (m *Mount) Unmount(flags UnmountFlags) error {
	if m.unmounted {
		return er.New(er.Busy, "umount", m.target, "mount handle already released")
	}
	if err := Unmount(m.target, flags); err != nil {
		return err
	}
	m.unmounted = true
	runtime.SetFinalizer(m, nil)
	if m.loop != nil {
		if err := m.loop.Detach(); err != nil {
			return err
		}
	}
	return nil
}

// WithMount mounts source at target with auto-detection for the duration
// of fn, then unmounts. An unmount failure is logged, not returned, so it
// never masks fn's result; the mount error itself is returned as-is.
func WithMount(source, target string, fn func() error) error {
	m, err := New(source, target)
	if err != nil {
		return err
	}
	result := fn()
	if uerr := m.Unmount(0); uerr != nil {
		log.WithError(uerr).Warnf("%s: failed to unmount", target)
	}
	return result
}
