package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	log "lomount/logger"
	"lomount/pkg/config"
	"lomount/pkg/mount"
)

type options struct {
	lazy  bool
	force bool
	list  bool
	swap  bool
}

func main() {
	opts := options{}
	rootCmd := &cobra.Command{
		Use:          "loumount TARGET",
		Short:        "Detach the filesystem mounted at a target path",
		Args:         cobra.RangeArgs(0, 1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.list {
				return list()
			}
			if len(args) != 1 {
				return cmd.Usage()
			}
			return run(args[0], opts)
		},
	}
	rootCmd.Flags().BoolVarP(&opts.lazy, "lazy", "l", false, "lazy unmount: hide now, release when no longer busy")
	rootCmd.Flags().BoolVarP(&opts.force, "force", "f", false, "force unmount (NFS only, may lose data)")
	rootCmd.Flags().BoolVar(&opts.swap, "swap", false, "treat the target as a swap area and disable it")
	rootCmd.Flags().BoolVar(&opts.list, "list", false, "print the active mount table and exit")

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("unmount failed")
		os.Exit(1)
	}
}

func run(target string, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := log.Init(&log.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Debug: cfg.Debug}); err != nil {
		return err
	}

	if opts.swap {
		return mount.Swapoff(target)
	}

	var flags mount.UnmountFlags
	if opts.lazy {
		flags |= mount.Detach
	}
	if opts.force {
		flags |= mount.Force
	}
	return mount.Unmount(target, flags)
}

func list() error {
	entries, err := mount.ListMounts()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s on %s type %s (%s)\n", e.Source, e.Target, e.FSType, e.Options)
	}
	return nil
}
