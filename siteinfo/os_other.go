//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package siteinfo

import "runtime"

func osDescription() string {
	return runtime.GOOS + " " + runtime.GOARCH
}
