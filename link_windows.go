//go:build windows

package archloader

import (
	"golang.org/x/sys/windows"
)

// Windows has no process-global symbol namespace, so global and local
// linking collapse to the same call.
func dlopen(path string, _ bool) (Handle, error) {
	// The altered search path makes dependent DLLs resolve relative
	// to the library's own directory rather than the process cwd.
	h, err := windows.LoadLibraryEx(path, 0, windows.LOAD_WITH_ALTERED_SEARCH_PATH)
	if err != nil {
		return 0, err
	}
	return Handle(h), nil
}

func dlsym(h Handle, symbol string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(h), symbol)
}

func dlclose(h Handle) error {
	return windows.FreeLibrary(windows.Handle(h))
}
