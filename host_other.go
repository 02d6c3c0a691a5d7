//go:build !unix && !windows

package archloader

import (
	"runtime"
)

func probeOS() (name, version string) {
	return reportedOS(runtime.GOOS), ""
}
