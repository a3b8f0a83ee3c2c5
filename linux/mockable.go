// Copyright 2026 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package linux

import (
	"os"

	"golang.org/x/sys/unix"
)

var (
	acpiCallPath = "/proc/acpi/call"
	devMemPath   = "/dev/mem"
	sysfsPath    = "/sys"

	acpiCall = realACPICall

	osOpenFile      = os.OpenFile
	unixGetpagesize = unix.Getpagesize
	unixMmap        = unix.Mmap
	unixMunmap      = unix.Munmap
)
