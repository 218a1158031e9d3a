package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	log "lomount/logger"
	"lomount/pkg/config"
	"lomount/pkg/loopback"
	"lomount/pkg/mount"
)

type options struct {
	fstype     string
	options    []string
	readOnly   bool
	bind       bool
	loopOffset uint64
	loopLimit  uint64
}

func main() {
	opts := options{}
	rootCmd := &cobra.Command{
		Use:          "lomount SOURCE TARGET",
		Short:        "Attach a device, image file or pseudo filesystem at a target path",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], opts)
		},
	}
	rootCmd.Flags().StringVarP(&opts.fstype, "types", "t", "", "filesystem type (default: auto-detect)")
	rootCmd.Flags().StringSliceVarP(&opts.options, "options", "o", nil, "mount options, fstab style")
	rootCmd.Flags().BoolVarP(&opts.readOnly, "read-only", "r", false, "mount read-only")
	rootCmd.Flags().BoolVarP(&opts.bind, "bind", "B", false, "bind mount a subtree")
	rootCmd.Flags().Uint64Var(&opts.loopOffset, "offset", 0, "byte offset for an implicit loop device")
	rootCmd.Flags().Uint64Var(&opts.loopLimit, "sizelimit", 0, "byte limit for an implicit loop device")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("mount failed")
		os.Exit(1)
	}
}

func run(source, target string, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := log.Init(&log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Debug: cfg.Debug}); err != nil {
		return err
	}

	builder := mount.Builder().
		LoopbackOffset(opts.loopOffset).
		LoopbackSizeLimit(opts.loopLimit)

	if cfg.DefaultOptions != "" {
		builder.Options(strings.Split(cfg.DefaultOptions, ",")...)
	}
	builder.Options(opts.options...)
	if opts.readOnly {
		builder.Flags(mount.ReadOnly)
	}
	if opts.bind {
		builder.Flags(mount.Bind)
	}

	switch {
	case opts.fstype != "" && opts.fstype != "auto":
		builder.FSType(opts.fstype)
	default:
		supported, err := mount.SupportedFilesystems()
		if err != nil {
			return err
		}
		builder.FSTypeFrom(supported)
	}

	if opts.loopOffset != 0 || opts.loopLimit != 0 {
		builder.Loopback(loopback.Spec{
			BackingFile: source,
			Offset:      opts.loopOffset,
			SizeLimit:   opts.loopLimit,
			Autoclear:   true,
		})
	}

	m, err := builder.Mount(source, target)
	if err != nil {
		return err
	}
	if dev := m.BackingLoopDevice(); dev != "" {
		fmt.Printf("mounted %s (%s, via %s) to %s\n", source, m.FSType(), dev, target)
	} else {
		fmt.Printf("mounted %s (%s) to %s\n", source, m.FSType(), target)
	}
	return nil
}
