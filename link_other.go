//go:build !darwin && !freebsd && !linux && !netbsd && !windows

package archloader

import (
	"errors"
)

var errNoLinker = errors.New("native linking not supported on this platform")

func dlopen(string, bool) (Handle, error) {
	return 0, errNoLinker
}

func dlsym(Handle, string) (uintptr, error) {
	return 0, errNoLinker
}

func dlclose(Handle) error {
	return errNoLinker
}
