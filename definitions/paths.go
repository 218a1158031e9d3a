package defs

import "os"

const (
	LomountConfDir = "/etc/lomount"
	// Lomount configuration (INI today, easy to switch to TOML later).
	DefaultLomountConf = LomountConfDir + "/lomount.conf"
	LomountConfEnv     = "LOMOUNT_CONF_FILE"

	DirMode  = os.FileMode(0755) | os.ModeDir
	FileMode = os.FileMode(0644)
)

const (
	// Kernel pseudo-files queried per call, never cached across calls.
	ProcFilesystems = "/proc/filesystems"
	ProcSelfMounts  = "/proc/self/mounts"

	// Loop device namespace.
	LoopControlPath  = "/dev/loop-control"
	LoopDeviceFormat = "/dev/loop%d"
)
