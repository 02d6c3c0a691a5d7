package archloader

// A Handle is a loaded library image, wrapping the platform loader's
// opaque handle value.
type Handle uintptr

// A Linker maps a resolved library file into the process.
type Linker interface {
	Link(path string) (Handle, error)
}

type linker struct {
	global bool
}

// Global returns the Linker for ordinary bindings: symbols join the
// process-wide namespace, as if the library had been linked at build
// time.
func Global() Linker {
	return linker{global: true}
}

// Local returns a Linker that keeps symbols scoped to the returned
// Handle, so several builds of one library can coexist in a process.
func Local() Linker {
	return linker{}
}

func (lk linker) Link(path string) (Handle, error) {
	return dlopen(path, lk.global)
}

// Lookup resolves a symbol to its address in the image.
func (h Handle) Lookup(symbol string) (uintptr, error) {
	return dlsym(h, symbol)
}

// Close unmaps the image. The platform loader shares images process-wide,
// so closing invalidates symbol addresses already handed out; most
// programs keep handles open for their lifetime instead.
func (h Handle) Close() error {
	return dlclose(h)
}
