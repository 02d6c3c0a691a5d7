//go:build windows

package archloader

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func probeOS() (name, version string) {
	// The tag leaves Windows unversioned, so the release only shows
	// up in fallback tags and logs.
	major, minor, build := windows.RtlGetNtVersionNumbers()
	return "Windows", fmt.Sprintf("%d.%d.%d", major, minor, build)
}
