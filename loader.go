// Package archloader resolves and loads the native shared library built
// for the running platform.
//
// A library ships as one file per platform, laid out under a common root
// as {location}/{tag}/{file}, where the tag canonicalizes the host OS,
// release and architecture: "linux-x64", "freebsd-10-x64", "osx-arm64".
// A Loader computes the host tag, finds the file in a Namespace, extracts
// it to a unique temporary file when the namespace cannot hand over a
// path directly, and gives the absolute path to a Linker.
//
//	//go:embed lib
//	var bundled embed.FS
//
//	handle, err := archloader.Load("hello", "lib", archloader.FS(bundled), archloader.Global())
package archloader

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/phuslu/log"
)

// NotSupportedError reports that the namespace holds no build of the
// library for the resolved platform tag.
type NotSupportedError struct {
	Path string // the searched key, {location}/{tag}/{file}
}

func (e *NotSupportedError) Error() string {
	return "platform not supported: " + e.Path + " not found"
}

// ExtractError reports a failure to materialize the library out of the
// namespace onto the filesystem.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string {
	return "extract " + e.Path + ": " + e.Err.Error()
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// A Loader resolves one native library against one namespace. Its
// methods are safe for concurrent use; distinct Loaders are independent.
type Loader struct {
	mu   sync.Mutex
	name string
	loc  string
	ns   Namespace
	env  Env
	tmp  string // owned extracted copy, empty until File extracts
}

// An Option adjusts how a Loader resolves.
type Option func(*Loader)

// WithEnv resolves against an explicit environment instead of the probed
// host, for tests and cross-platform tooling.
func WithEnv(env Env) Option {
	return func(l *Loader) {
		l.env = env
	}
}

// New returns a Loader for the bare library name under location in ns.
// The platform's file naming convention is applied during resolution, so
// the name carries no "lib" prefix or extension. An empty location
// defaults to "lib/" plus the import path of the calling package.
func New(name, location string, ns Namespace, opts ...Option) *Loader {
	if location == "" {
		location = "lib/" + callerPackage(1)
	}
	l := &Loader{
		name: name,
		loc:  location,
		ns:   ns,
		env:  Current(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.name = l.env.LibFileName(l.name)
	return l
}

// Load resolves the library with a throwaway Loader, links it with lk
// and returns the handle. The extracted copy is released before Load
// returns; on platforms that keep the mapped file open, defer Cleanup
// from main to collect it.
func Load(name, location string, ns Namespace, lk Linker, opts ...Option) (Handle, error) {
	if location == "" {
		location = "lib/" + callerPackage(1)
	}
	l := New(name, location, ns, opts...)
	defer l.Close()

	libFile, err := l.File()
	if err != nil {
		return 0, err
	}
	return lk.Link(libFile)
}

// File resolves the library and returns an absolute path on the host
// filesystem, extracting to a unique temporary file when the namespace
// cannot serve one directly. An extracted copy is remembered until Close.
// A *NotSupportedError means no build is bundled for this platform; an
// *ExtractError means the copy out of the namespace failed.
func (l *Loader) File() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tmp != "" {
		return l.tmp, nil
	}
	libPath := l.libPath()
	if found, ok := l.ns.Locate(libPath); ok {
		log.Debug().Msgf("Using %s in place", found)
		return found, nil
	}
	rc, err := l.ns.Open(libPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &NotSupportedError{Path: libPath}
		}
		return "", &ExtractError{Path: libPath, Err: err}
	}
	defer rc.Close()

	tmp, err := extract(rc, path.Base(libPath))
	if err != nil {
		return "", &ExtractError{Path: libPath, Err: err}
	}
	l.tmp = tmp
	log.Debug().Msgf("Extracted %s to %s", libPath, tmp)
	return tmp, nil
}

// Close removes the extracted copy, if any. A copy that cannot be
// removed yet (the image may still be mapped on Windows) is queued for
// Cleanup. Close never fails; calling it again is a no-op.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.tmp == "" {
		return
	}
	if err := os.Remove(l.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msgf("Could not remove %s, deferring", l.tmp)
		deferRemoval(l.tmp)
	}
	l.tmp = ""
}

func (l *Loader) libPath() string {
	return path.Join(trimSeparators(l.loc), l.env.Tag(), trimSeparators(l.name))
}

func trimSeparators(s string) string {
	return strings.Trim(s, `/\`)
}

// extract copies a library stream to a fresh temporary file whose name
// ends in fileName, so the dynamic loader sees the right extension.
func extract(r io.Reader, fileName string) (string, error) {
	f, err := os.CreateTemp("", "*"+fileName)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err = f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err = os.Chmod(f.Name(), 0o755); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	abs, err := filepath.Abs(f.Name())
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return abs, nil
}

// callerPackage returns the import path of the package calling skip
// frames above the caller of callerPackage itself.
func callerPackage(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	// Function names look like "example.com/pkg.Func" or
	// "example.com/pkg.(*T).Method"; the package path ends at the
	// first dot after the last slash.
	name := fn.Name()
	base := 0
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		base = i + 1
	}
	if i := strings.IndexByte(name[base:], '.'); i >= 0 {
		return name[:base+i]
	}
	return name
}

var pending struct {
	sync.Mutex
	paths []string
}

func deferRemoval(path string) {
	pending.Lock()
	defer pending.Unlock()
	pending.paths = append(pending.paths, path)
}

// Cleanup removes extracted copies whose removal failed earlier because
// the library image was still mapped. Call it late, typically deferred
// from main, on platforms that hold loaded files open.
func Cleanup() {
	pending.Lock()
	paths := pending.paths
	pending.paths = nil
	pending.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Debug().Msgf("Leaving %s behind: %s", p, err)
		}
	}
}
