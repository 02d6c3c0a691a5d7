package archloader

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// A Namespace is a tree of bundled resources that a Loader searches for
// native libraries. Lookup names are slash-separated, io/fs style.
//
// Locate reports a host filesystem path for resources that are directly
// addressable, letting the Loader hand the file over without copying.
// Namespaces backed by embedded or packed data report ok=false and serve
// bytes through Open instead. Open reports a missing resource with an
// error satisfying errors.Is(err, fs.ErrNotExist).
type Namespace interface {
	Locate(name string) (path string, ok bool)
	Open(name string) (io.ReadCloser, error)
}

type fsSpace struct {
	fsys fs.FS
}

// FS serves resources from an fs.FS, typically an embed.FS holding the
// per-platform builds. Embedded data has no host path, so resolution
// always goes through extraction.
func FS(fsys fs.FS) Namespace {
	return fsSpace{fsys: fsys}
}

func (s fsSpace) Locate(string) (string, bool) {
	return "", false
}

func (s fsSpace) Open(name string) (io.ReadCloser, error) {
	return s.fsys.Open(name)
}

type dirSpace struct {
	root string
}

// Dir serves resources from a directory tree on the host filesystem.
// Libraries found under it load in place, never copied.
func Dir(root string) Namespace {
	return dirSpace{root: root}
}

func (s dirSpace) Locate(name string) (string, bool) {
	path := filepath.Join(s.root, filepath.FromSlash(name))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, true
}

func (s dirSpace) Open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
}

type multiSpace []Namespace

// Multi searches spaces in order. The first space holding a name wins
// it, whether or not it can serve a direct path; later spaces never
// shadow an earlier hit.
func Multi(spaces ...Namespace) Namespace {
	return multiSpace(spaces)
}

func (m multiSpace) Locate(name string) (string, bool) {
	for _, s := range m {
		if path, ok := s.Locate(name); ok {
			return path, ok
		}
		rc, err := s.Open(name)
		if err == nil {
			// Present here, but only as a stream. The search is
			// decided; the Loader extracts from this space.
			rc.Close()
			return "", false
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", false
		}
	}
	return "", false
}

func (m multiSpace) Open(name string) (io.ReadCloser, error) {
	for _, s := range m {
		rc, err := s.Open(name)
		if err == nil {
			return rc, nil
		}
		// A miss falls through; a broken space surfaces instead of
		// being papered over by a later one.
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// SearchPath builds a namespace from a PATH-style list of directories,
// such as the value of LD_LIBRARY_PATH, searched left to right. Empty
// entries are skipped.
func SearchPath(list string) Namespace {
	var spaces []Namespace
	for _, dir := range filepath.SplitList(list) {
		if dir == "" {
			continue
		}
		spaces = append(spaces, Dir(dir))
	}
	return Multi(spaces...)
}
