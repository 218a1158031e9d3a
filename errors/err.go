package errors

import (
	goerrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// Kind classifies a failed mount, unmount or loop device operation so that
// callers can react without interpreting raw errno values.
type Kind int

const (
	// IO is a generic wrapped OS error; the errno stays reachable
	// through Unwrap for diagnostics.
	IO Kind = iota
	// Permission maps EACCES/EPERM.
	Permission
	// NotFound means the source or target path does not exist.
	NotFound
	// Busy means the target is already mounted, the device is in use,
	// or a handle was released twice.
	Busy
	// Invalid means a bad flag/option combination or an unsupported
	// filesystem type.
	Invalid
	// NoFreeLoopDevice means the loop device namespace is exhausted.
	NoFreeLoopDevice
	// CandidatesExhausted means every auto-detect candidate failed; the
	// per-candidate reasons are preserved in the chain.
	CandidatesExhausted
)

func (k Kind) String() string {
	switch k {
	case Permission:
		return "permission denied"
	case NotFound:
		return "not found"
	case Busy:
		return "resource busy"
	case Invalid:
		return "invalid argument"
	case NoFreeLoopDevice:
		return "no free loop device"
	case CandidatesExhausted:
		return "all candidate filesystems failed"
	default:
		return "i/o error"
	}
}

// Error carries the operation, path and filesystem context alongside the
// classified kind, so every failure renders an actionable message.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	FSType string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.FSType != "" {
		fmt.Fprintf(&b, " (%s)", e.FSType)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with an explicit kind and message.
func New(kind Kind, op, path, msg string) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: goerrors.New(msg)}
}

// Wrap classifies err by its errno and attaches op/path context. A nil err
// yields nil.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Path: path, Err: err}
}

// WrapFS is Wrap with the attempted filesystem type recorded as well.
func WrapFS(op, path, fstype string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Classify(err), Op: op, Path: path, FSType: fstype, Err: err}
}

// Classify maps an OS-level error onto a Kind. Unrecognized errors are IO.
func Classify(err error) Kind {
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		switch errno {
		case unix.EACCES, unix.EPERM:
			return Permission
		case unix.ENOENT:
			return NotFound
		case unix.EBUSY:
			return Busy
		case unix.EINVAL, unix.ENODEV, unix.ENOTBLK, unix.ENXIO:
			return Invalid
		}
		return IO
	}
	switch {
	case goerrors.Is(err, fs.ErrNotExist):
		return NotFound
	case goerrors.Is(err, fs.ErrPermission):
		return Permission
	}
	return IO
}

// IsKind reports whether err or anything in its chain is an Error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if goerrors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Attempt records one failed mount attempt during auto-detection.
type Attempt struct {
	FSType string
	Err    error
}

// ExhaustedCandidates aggregates every failed auto-detect attempt into a
// single CandidatesExhausted error. Each candidate keeps its own reason;
// none of them is discarded.
func ExhaustedCandidates(path string, attempts []Attempt) error {
	agg := &multierror.Error{ErrorFormat: candidateListFormat}
	for _, a := range attempts {
		agg = multierror.Append(agg, fmt.Errorf("%s: %w", a.FSType, a.Err))
	}
	return &Error{
		Kind: CandidatesExhausted,
		Op:   "mount",
		Path: path,
		Err:  agg.ErrorOrNil(),
	}
}

func candidateListFormat(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d filesystem(s) tried: [%s]", len(errs), strings.Join(parts, "; "))
}

// WithSecondary chains a cleanup failure behind a primary error. The
// primary stays at the head of the chain and is never masked; a nil
// secondary returns the primary unchanged.
func WithSecondary(primary, secondary error) error {
	if secondary == nil {
		return primary
	}
	if primary == nil {
		return secondary
	}
	return multierror.Append(primary, secondary)
}
