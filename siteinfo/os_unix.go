//go:build linux || darwin || freebsd || netbsd || openbsd

package siteinfo

import (
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// osDescription returns "sysname release machine" from uname(2).
func osDescription() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS + " " + runtime.GOARCH
	}
	parts := []string{
		unix.ByteSliceToString(u.Sysname[:]),
		unix.ByteSliceToString(u.Release[:]),
		unix.ByteSliceToString(u.Machine[:]),
	}
	return strings.Join(parts, " ")
}
