package mount

import (
	"path/filepath"

	er "lomount/errors"
	"lomount/pkg/loopback"
)

// MountBuilder accumulates a mount request incrementally. It is inert
// until Mount is called; nothing is validated or touched before then.
type MountBuilder struct {
	flags      MountFlags
	options    []string
	data       string
	fstype     string
	candidates []string
	supported  *Supported
	loop       *loopback.Spec
	loopOffset uint64
	loopLimit  uint64
}

// Builder returns an empty MountBuilder.
func Builder() *MountBuilder {
	return &MountBuilder{}
}

// Flags ORs f into the request's flag word.
func (b *MountBuilder) Flags(f MountFlags) *MountBuilder {
	b.flags |= f
	return b
}

// Options records symbolic option tokens (ro, noexec, key=value, ...).
// They are composed into flags and the data string when Mount runs.
func (b *MountBuilder) Options(tokens ...string) *MountBuilder {
	b.options = append(b.options, tokens...)
	return b
}

// Data sets the free-form options string handed to the filesystem driver.
// Tokens produced by Options are appended after it.
func (b *MountBuilder) Data(data string) *MountBuilder {
	b.data = data
	return b
}

// FSType pins the filesystem type; exactly one mount attempt will be made.
func (b *MountBuilder) FSType(name string) *MountBuilder {
	b.fstype = name
	return b
}

// FSTypeFrom enables auto-detection over the device-backed filesystems of
// a catalog snapshot, in registration order.
func (b *MountBuilder) FSTypeFrom(s *Supported) *MountBuilder {
	b.supported = s
	return b
}

// Candidates enables auto-detection over an explicit candidate list, tried
// in the given order.
func (b *MountBuilder) Candidates(names ...string) *MountBuilder {
	b.candidates = append(b.candidates, names...)
	return b
}

// Loopback binds the source through a loop device described by spec
// instead of mounting it directly.
func (b *MountBuilder) Loopback(spec loopback.Spec) *MountBuilder {
	s := spec
	b.loop = &s
	return b
}

// LoopbackOffset sets the byte offset used when a loop device is created
// implicitly for an image file source.
func (b *MountBuilder) LoopbackOffset(offset uint64) *MountBuilder {
	b.loopOffset = offset
	return b
}

// LoopbackSizeLimit caps the bytes visible through an implicitly created
// loop device.
func (b *MountBuilder) LoopbackSizeLimit(limit uint64) *MountBuilder {
	b.loopLimit = limit
	return b
}

// imageExtensions maps well-known disk image extensions to their pinned
// filesystem type. Sources with these extensions are mounted read-only
// through an implicit loop device.
var imageExtensions = map[string]string{
	".iso":      "iso9660",
	".squashfs": "squashfs",
}

// Mount submits the request: composes flags, sets up a loop device when
// needed, and attempts the mount syscall(s). On success the returned
// handle owns the loop device; on failure an attached device is always
// detached before the error propagates.
func (b *MountBuilder) Mount(source, target string) (*Mount, error) {
	if target == "" {
		return nil, er.New(er.Invalid, "mount", "", "empty target path")
	}

	optFlags, optData, err := ComposeOptions(b.options)
	if err != nil {
		return nil, err
	}
	flags := b.flags | optFlags
	data := b.data
	if optData != "" {
		if data != "" {
			data += ","
		}
		data += optData
	}

	fstype := b.fstype
	var loopSpec *loopback.Spec
	if b.loop != nil {
		spec := *b.loop
		loopSpec = &spec
	}
	if loopSpec == nil && source != "" {
		if pinned, ok := imageExtensions[filepath.Ext(source)]; ok {
			flags |= ReadOnly
			if fstype == "" && len(b.candidates) == 0 {
				fstype = pinned
			}
			loopSpec = &loopback.Spec{
				BackingFile: source,
				Offset:      b.loopOffset,
				SizeLimit:   b.loopLimit,
				Autoclear:   true,
			}
		}
	}
	if loopSpec != nil && loopSpec.BackingFile == "" {
		loopSpec.BackingFile = source
	}

	if err := flags.Validate(fstype != ""); err != nil {
		return nil, err
	}

	req := &request{
		source: source,
		target: target,
		flags:  flags,
		data:   data,
	}

	if loopSpec != nil {
		loopSpec.ReadOnly = flags.Has(ReadOnly)
		dev, err := attachLoop(*loopSpec)
		if err != nil {
			return nil, err
		}
		req.loop = dev
		// The loop node becomes the effective source; the original
		// path is kept for diagnostics only.
		req.effectiveSource = dev.Path()
	} else {
		req.effectiveSource = source
	}

	candidates, err := b.resolveCandidates(fstype)
	if err != nil {
		return nil, req.cleanup(err)
	}

	return req.run(fstype, candidates)
}

// resolveCandidates returns the auto-detection list, or nil when the type
// is explicit. With neither an explicit type nor a catalog, a fresh
// snapshot is taken, matching the convenience path of New.
func (b *MountBuilder) resolveCandidates(fstype string) ([]string, error) {
	if fstype != "" {
		return nil, nil
	}
	if len(b.candidates) > 0 {
		return b.candidates, nil
	}
	supported := b.supported
	if supported == nil {
		var err error
		supported, err = SupportedFilesystems()
		if err != nil {
			return nil, err
		}
	}
	return supported.Dev(), nil
}
