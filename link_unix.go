//go:build darwin || freebsd || linux || netbsd

package archloader

import (
	"github.com/ebitengine/purego"
)

func dlopen(path string, global bool) (Handle, error) {
	mode := purego.RTLD_NOW | purego.RTLD_LOCAL
	if global {
		mode = purego.RTLD_NOW | purego.RTLD_GLOBAL
	}
	h, err := purego.Dlopen(path, mode)
	if err != nil {
		return 0, err
	}
	return Handle(h), nil
}

func dlsym(h Handle, symbol string) (uintptr, error) {
	return purego.Dlsym(uintptr(h), symbol)
}

func dlclose(h Handle) error {
	return purego.Dlclose(uintptr(h))
}
