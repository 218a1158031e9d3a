package mount

import (
	er "lomount/errors"
)

// Swapoff disables the swap area at path. It shares the unmount error
// taxonomy: a swap area still in use surfaces as Busy.
func Swapoff(path string) error {
	if path == "" {
		return er.New(er.Invalid, "swapoff", "", "empty path")
	}
	if err := swapoffSyscall(path); err != nil {
		return er.Wrap("swapoff", path, err)
	}
	return nil
}
