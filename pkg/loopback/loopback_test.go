package loopback

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	er "lomount/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeNamespace redirects the loop device namespace into a temp directory
// with regular files standing in for the device nodes.
func fakeNamespace(t *testing.T, withControl bool, nodes int) string {
	t.Helper()
	dir := t.TempDir()

	oldCtl, oldFmt := loopControlPath, loopDevFormat
	loopControlPath = filepath.Join(dir, "loop-control")
	loopDevFormat = filepath.Join(dir, "loop%d")
	t.Cleanup(func() {
		loopControlPath, loopDevFormat = oldCtl, oldFmt
	})

	if withControl {
		require.NoError(t, os.WriteFile(loopControlPath, nil, 0o600))
	}
	for i := 0; i < nodes; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "loop"+strconv.Itoa(i)), nil, 0o600))
	}
	return dir
}

func backingFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.iso")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	return path
}

func stubIoctls(t *testing.T, retInt func(fd int, req uint) (int, error),
	setInt func(fd int, req uint, value int) error,
	setStatus func(fd int, value *unix.LoopInfo64) error) {
	t.Helper()
	oldRet, oldSet, oldStatus := ioctlRetInt, ioctlSetInt, ioctlLoopSetStatus
	ioctlRetInt = retInt
	ioctlSetInt = setInt
	ioctlLoopSetStatus = setStatus
	t.Cleanup(func() {
		ioctlRetInt, ioctlSetInt, ioctlLoopSetStatus = oldRet, oldSet, oldStatus
	})
}

func TestAttach(t *testing.T) {
	t.Run("kernel allocation binds offset, limit and flags", func(t *testing.T) {
		fakeNamespace(t, true, 4)
		backing := backingFile(t)

		var setFdCalls int
		var status unix.LoopInfo64
		stubIoctls(t,
			func(_ int, req uint) (int, error) {
				assert.EqualValues(t, unix.LOOP_CTL_GET_FREE, req)
				return 3, nil
			},
			func(_ int, req uint, _ int) error {
				assert.EqualValues(t, unix.LOOP_SET_FD, req)
				setFdCalls++
				return nil
			},
			func(_ int, value *unix.LoopInfo64) error {
				status = *value
				return nil
			},
		)

		dev, err := Attach(Spec{
			BackingFile: backing,
			Offset:      2048,
			SizeLimit:   1 << 20,
			ReadOnly:    true,
			Autoclear:   true,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, dev.Index())
		assert.Contains(t, dev.Path(), "loop3")
		assert.Equal(t, 1, setFdCalls)

		assert.EqualValues(t, 2048, status.Offset)
		assert.EqualValues(t, 1<<20, status.Sizelimit)
		assert.NotZero(t, status.Flags&unix.LO_FLAGS_AUTOCLEAR)
		assert.NotZero(t, status.Flags&unix.LO_FLAGS_READ_ONLY)
	})

	t.Run("status failure clears the half-bound fd", func(t *testing.T) {
		fakeNamespace(t, true, 1)
		backing := backingFile(t)

		var cleared bool
		stubIoctls(t,
			func(int, uint) (int, error) { return 0, nil },
			func(_ int, req uint, _ int) error {
				if req == unix.LOOP_CLR_FD {
					cleared = true
				}
				return nil
			},
			func(int, *unix.LoopInfo64) error { return unix.EIO },
		)

		_, err := Attach(Spec{BackingFile: backing})
		require.Error(t, err)
		assert.True(t, cleared, "LOOP_CLR_FD after a failed LOOP_SET_STATUS64")
	})

	t.Run("lost allocation race retries with a fresh index", func(t *testing.T) {
		fakeNamespace(t, true, 4)
		backing := backingFile(t)

		indexes := []int{1, 2}
		var allocated []int
		stubIoctls(t,
			func(int, uint) (int, error) {
				index := indexes[0]
				if len(indexes) > 1 {
					indexes = indexes[1:]
				}
				allocated = append(allocated, index)
				return index, nil
			},
			func(_ int, req uint, _ int) error {
				if req == unix.LOOP_SET_FD && len(allocated) == 1 {
					return unix.EBUSY
				}
				return nil
			},
			func(int, *unix.LoopInfo64) error { return nil },
		)

		dev, err := Attach(Spec{BackingFile: backing})
		require.NoError(t, err)
		assert.Equal(t, 2, dev.Index())
		assert.Equal(t, []int{1, 2}, allocated)
	})

	t.Run("scan fallback skips busy indexes", func(t *testing.T) {
		fakeNamespace(t, false, 3)
		backing := backingFile(t)

		var bound []uint
		stubIoctls(t,
			func(int, uint) (int, error) {
				t.Fatal("no control node, allocation must not be used")
				return 0, nil
			},
			func(_ int, req uint, _ int) error {
				if req != unix.LOOP_SET_FD {
					return nil
				}
				bound = append(bound, req)
				if len(bound) == 1 {
					return unix.EBUSY
				}
				return nil
			},
			func(int, *unix.LoopInfo64) error { return nil },
		)

		dev, err := Attach(Spec{BackingFile: backing})
		require.NoError(t, err)
		assert.Equal(t, 1, dev.Index(), "loop0 was busy, loop1 is next")
	})

	t.Run("exhausted namespace reports no free device", func(t *testing.T) {
		fakeNamespace(t, false, 0)
		backing := backingFile(t)

		stubIoctls(t,
			func(int, uint) (int, error) { return 0, nil },
			func(int, uint, int) error { return nil },
			func(int, *unix.LoopInfo64) error { return nil },
		)

		_, err := Attach(Spec{BackingFile: backing})
		require.Error(t, err)
		assert.True(t, er.IsKind(err, er.NoFreeLoopDevice))
	})

	t.Run("empty backing file is invalid", func(t *testing.T) {
		_, err := Attach(Spec{})
		require.Error(t, err)
		assert.True(t, er.IsKind(err, er.Invalid))
	})

	t.Run("missing backing file is not found", func(t *testing.T) {
		fakeNamespace(t, true, 1)
		_, err := Attach(Spec{BackingFile: "/does/not/exist.iso"})
		require.Error(t, err)
		assert.True(t, er.IsKind(err, er.NotFound))
	})
}

func TestDetach(t *testing.T) {
	t.Run("succeeds exactly once", func(t *testing.T) {
		dir := fakeNamespace(t, false, 1)

		var clears int
		stubIoctls(t,
			func(int, uint) (int, error) { return 0, nil },
			func(_ int, req uint, _ int) error {
				if req == unix.LOOP_CLR_FD {
					clears++
				}
				return nil
			},
			func(int, *unix.LoopInfo64) error { return nil },
		)

		dev := &Device{path: filepath.Join(dir, "loop0"), index: 0}
		require.NoError(t, dev.Detach())
		assert.Equal(t, 1, clears)

		err := dev.Detach()
		require.Error(t, err)
		assert.True(t, er.IsKind(err, er.Busy), "the handle is consumed")
		assert.Equal(t, 1, clears, "no second ioctl is issued")
	})

	t.Run("kernel failure keeps the handle live", func(t *testing.T) {
		dir := fakeNamespace(t, false, 1)

		fail := true
		stubIoctls(t,
			func(int, uint) (int, error) { return 0, nil },
			func(_ int, req uint, _ int) error {
				if req == unix.LOOP_CLR_FD && fail {
					return unix.EBUSY
				}
				return nil
			},
			func(int, *unix.LoopInfo64) error { return nil },
		)

		dev := &Device{path: filepath.Join(dir, "loop0"), index: 0}
		err := dev.Detach()
		require.Error(t, err)
		assert.True(t, er.IsKind(err, er.Busy))

		fail = false
		require.NoError(t, dev.Detach(), "a failed detach can be retried")
	})
}
