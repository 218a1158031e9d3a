// Package loopback manages the lifecycle of kernel loop devices: finding a
// free node, binding a backing file to it and releasing it again.
package loopback

import (
	"fmt"
	"os"

	defs "lomount/definitions"
	er "lomount/errors"
	log "lomount/logger"

	"golang.org/x/sys/unix"
)

// scanLimit bounds the manual free-device scan used when /dev/loop-control
// is unavailable.
const scanLimit = 256

// allocRetries bounds how often a kernel-allocated index that turned out to
// be taken (lost race) is re-requested.
const allocRetries = 3

// Spec describes how a backing file should be bound to a loop device. It
// owns no kernel resource until Attach succeeds.
type Spec struct {
	// BackingFile is the regular file exposed through the device.
	BackingFile string
	// Offset is the byte offset into the backing file where the visible
	// data starts.
	Offset uint64
	// SizeLimit caps the number of visible bytes; 0 means to the end of
	// the file.
	SizeLimit uint64
	// ReadOnly binds the device read-only.
	ReadOnly bool
	// Autoclear asks the kernel to release the device on last close, so
	// a mount torn down outside this API does not leak it. Explicit
	// Detach is still required on our paths.
	Autoclear bool
}

// Device is one attached loop device node. It is single-owner: Detach
// consumes it, and a second Detach fails with a Busy error without
// touching the kernel.
type Device struct {
	path     string
	index    int
	detached bool
}

// Path returns the device node path, e.g. /dev/loop3.
func (d *Device) Path() string {
	return d.path
}

// Index returns the loop device index.
func (d *Device) Index() int {
	return d.index
}

// Syscall and namespace seams, overridden in tests.
var (
	loopControlPath = defs.LoopControlPath
	loopDevFormat   = defs.LoopDeviceFormat

	ioctlRetInt        = unix.IoctlRetInt
	ioctlSetInt        = unix.IoctlSetInt
	ioctlLoopSetStatus = unix.IoctlLoopSetStatus64
)

// Attach binds spec.BackingFile to a free loop device and returns the
// handle. The kernel's LOOP_CTL_GET_FREE allocation is preferred; scanning
// the device namespace is a fallback for systems without /dev/loop-control.
func Attach(spec Spec) (*Device, error) {
	if spec.BackingFile == "" {
		return nil, er.New(er.Invalid, "loop attach", "", "empty backing file")
	}

	backing, err := os.OpenFile(spec.BackingFile, openMode(spec.ReadOnly), 0)
	if err != nil {
		return nil, er.Wrap("loop attach", spec.BackingFile, err)
	}
	defer backing.Close()

	ctl, err := os.OpenFile(loopControlPath, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return scanFree(backing, spec)
		}
		return nil, er.Wrap("loop attach", loopControlPath, err)
	}
	defer ctl.Close()

	for i := 0; i < allocRetries; i++ {
		index, err := ioctlRetInt(int(ctl.Fd()), unix.LOOP_CTL_GET_FREE)
		if err != nil {
			return nil, er.Wrap("loop attach", loopControlPath, err)
		}
		dev, err := bind(index, backing, spec)
		if err == nil {
			return dev, nil
		}
		if !er.IsKind(err, er.Busy) {
			return nil, err
		}
		// Someone else claimed the index between GET_FREE and
		// SET_FD. Ask again.
		log.Debugf("loop%d taken after allocation, retrying", index)
	}
	return nil, er.New(er.NoFreeLoopDevice, "loop attach", spec.BackingFile,
		"could not claim a kernel-allocated loop device")
}

// Detach releases the loop device. The handle is consumed: a second call
// fails with Busy, matching the kernel's refusal to clear an unbound fd.
func (d *Device) Detach() error {
	if d.detached {
		return er.New(er.Busy, "loop detach", d.path, "device already detached")
	}
	node, err := os.OpenFile(d.path, os.O_RDONLY, 0)
	if err != nil {
		return er.Wrap("loop detach", d.path, err)
	}
	defer node.Close()
	if err := ioctlSetInt(int(node.Fd()), unix.LOOP_CLR_FD, 0); err != nil {
		return er.Wrap("loop detach", d.path, err)
	}
	d.detached = true
	return nil
}

// bind associates the backing file with the loop node at index and applies
// offset, size limit and flags. On a status failure the fd association is
// cleared before returning so a half-bound device is never leaked.
func bind(index int, backing *os.File, spec Spec) (*Device, error) {
	path := fmt.Sprintf(loopDevFormat, index)
	node, err := os.OpenFile(path, openMode(spec.ReadOnly), 0)
	if err != nil {
		return nil, er.Wrap("loop attach", path, err)
	}
	defer node.Close()

	if err := ioctlSetInt(int(node.Fd()), unix.LOOP_SET_FD, int(backing.Fd())); err != nil {
		return nil, er.Wrap("loop attach", path, err)
	}

	info := unix.LoopInfo64{
		Offset:    spec.Offset,
		Sizelimit: spec.SizeLimit,
	}
	copy(info.File_name[:], spec.BackingFile)
	if spec.Autoclear {
		info.Flags |= unix.LO_FLAGS_AUTOCLEAR
	}
	if spec.ReadOnly {
		info.Flags |= unix.LO_FLAGS_READ_ONLY
	}
	if err := ioctlLoopSetStatus(int(node.Fd()), &info); err != nil {
		if cerr := ioctlSetInt(int(node.Fd()), unix.LOOP_CLR_FD, 0); cerr != nil {
			log.WithError(cerr).Warnf("failed to clear %s after status failure", path)
		}
		return nil, er.Wrap("loop attach", path, err)
	}
	return &Device{path: path, index: index}, nil
}

// scanFree walks the static device namespace looking for an unbound node.
// EBUSY from SET_FD means another process won the race for that index, so
// the scan simply moves on.
func scanFree(backing *os.File, spec Spec) (*Device, error) {
	for index := 0; index < scanLimit; index++ {
		path := fmt.Sprintf(loopDevFormat, index)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				break
			}
			continue
		}
		dev, err := bind(index, backing, spec)
		if err == nil {
			return dev, nil
		}
		if er.IsKind(err, er.Busy) {
			continue
		}
		return nil, err
	}
	return nil, er.New(er.NoFreeLoopDevice, "loop attach", spec.BackingFile,
		"no unbound loop device found")
}

func openMode(readOnly bool) int {
	if readOnly {
		return os.O_RDONLY
	}
	return os.O_RDWR
}
