//go:build unix

package archloader

import (
	"runtime"

	"github.com/phuslu/log"
	"golang.org/x/sys/unix"
)

func probeOS() (name, version string) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		log.Warn().Err(err).Msg("uname failed, using build-time platform")
		return reportedOS(runtime.GOOS), ""
	}
	name = unix.ByteSliceToString(uts.Sysname[:])
	version = unix.ByteSliceToString(uts.Release[:])
	if name == "AIX" {
		// AIX splits its release across two uname fields: Version
		// holds the major ("7") and Release the minor ("2").
		version = unix.ByteSliceToString(uts.Version[:]) + "." + version
	}
	return
}
