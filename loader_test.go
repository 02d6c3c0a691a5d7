package archloader_test

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"github.com/bven/archloader"
)

var linuxEnv = archloader.Env{OS: "Linux", Version: "6.8.0", Arch: "amd64", Bits: 64}

// streamSpace serves one reader for every name, never a direct path.
type streamSpace struct {
	r io.Reader
}

func (s streamSpace) Locate(string) (string, bool) {
	return "", false
}

func (s streamSpace) Open(string) (io.ReadCloser, error) {
	return io.NopCloser(s.r), nil
}

// errorSpace fails every open with a fixed error.
type errorSpace struct {
	err error
}

func (s errorSpace) Locate(string) (string, bool) {
	return "", false
}

func (s errorSpace) Open(string) (io.ReadCloser, error) {
	return nil, s.err
}

type recordLinker struct {
	path    string
	present bool
	err     error
}

func (r *recordLinker) Link(path string) (archloader.Handle, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.path = path
	_, statErr := os.Stat(path)
	r.present = statErr == nil
	return archloader.Handle(42), nil
}

func TestFileNotBundled(t *testing.T) {
	t.Parallel()

	l := archloader.New("Native", "lib/com.example.hello", archloader.FS(fstest.MapFS{}),
		archloader.WithEnv(linuxEnv))
	defer l.Close()

	_, err := l.File()
	var notSupported *archloader.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	require.Equal(t, "lib/com.example.hello/linux-x64/libNative.so", notSupported.Path)
}

func TestFileNotBundledWindows(t *testing.T) {
	t.Parallel()

	env := archloader.Env{OS: "Windows Server 2022", Version: "10.0.20348", Arch: "x86", Bits: 64}
	l := archloader.New("myLibrary", "libs", archloader.FS(fstest.MapFS{}), archloader.WithEnv(env))
	defer l.Close()

	_, err := l.File()
	var notSupported *archloader.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	require.Equal(t, "libs/windows-x64/myLibrary.dll", notSupported.Path)
}

func TestFileTrimsSeparators(t *testing.T) {
	t.Parallel()

	for _, location := range []string{"lib/com.example.hello", "/lib/com.example.hello/", `\lib/com.example.hello\`} {
		l := archloader.New("Native", location, archloader.FS(fstest.MapFS{}),
			archloader.WithEnv(linuxEnv))
		_, err := l.File()
		var notSupported *archloader.NotSupportedError
		require.ErrorAs(t, err, &notSupported)
		require.Equal(t, "lib/com.example.hello/linux-x64/libNative.so", notSupported.Path)
		l.Close()
	}
}

func TestFileExtracts(t *testing.T) {
	t.Parallel()

	payload := []byte("\x7fELF fake image")
	m := fstest.MapFS{
		"lib/linux-x64/libNative.so": &fstest.MapFile{Data: payload},
	}
	l := archloader.New("Native", "lib", archloader.FS(m), archloader.WithEnv(linuxEnv))
	defer l.Close()

	path, err := l.File()
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path))
	require.True(t, strings.HasSuffix(filepath.Base(path), "libNative.so"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.NotZero(t, info.Mode()&0o111)
	}

	again, err := l.File()
	require.NoError(t, err)
	require.Equal(t, path, again)

	l.Close()
	_, err = os.Stat(path)
	require.ErrorIs(t, err, fs.ErrNotExist)
	l.Close()

	reopened, err := l.File()
	require.NoError(t, err)
	require.FileExists(t, reopened)
}

func TestFileInPlace(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	libDir := filepath.Join(root, "libs", "linux-x64")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	libFile := filepath.Join(libDir, "libNative.so")
	require.NoError(t, os.WriteFile(libFile, []byte("image"), 0o755))

	l := archloader.New("Native", "libs", archloader.Dir(root), archloader.WithEnv(linuxEnv))
	defer l.Close()

	path, err := l.File()
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(path))
	require.True(t, strings.HasPrefix(path, root))

	// Nothing was copied, so Close must leave the bundle alone.
	l.Close()
	require.FileExists(t, libFile)
}

func TestFilePrefersFirstSpace(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	libDir := filepath.Join(root, "lib", "linux-x64")
	require.NoError(t, os.MkdirAll(libDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "libNative.so"), []byte("from disk"), 0o755))

	embedded := fstest.MapFS{
		"lib/linux-x64/libNative.so": &fstest.MapFile{Data: []byte("from embed")},
	}
	ns := archloader.Multi(archloader.FS(embedded), archloader.Dir(root))

	l := archloader.New("Native", "lib", ns, archloader.WithEnv(linuxEnv))
	defer l.Close()

	path, err := l.File()
	require.NoError(t, err)
	require.False(t, strings.HasPrefix(path, root))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("from embed"), data)
}

func TestFileExtractFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("short read")
	ns := streamSpace{r: iotest.ErrReader(cause)}
	l := archloader.New("Broken", "lib", ns, archloader.WithEnv(linuxEnv))
	defer l.Close()

	_, err := l.File()
	var extractErr *archloader.ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, "lib/linux-x64/libBroken.so", extractErr.Path)
	require.ErrorIs(t, err, cause)

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "*libBroken.so"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestFileOpenFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("archive corrupted")
	l := archloader.New("Native", "lib", errorSpace{err: cause}, archloader.WithEnv(linuxEnv))
	defer l.Close()

	_, err := l.File()
	var extractErr *archloader.ExtractError
	require.ErrorAs(t, err, &extractErr)
	require.ErrorIs(t, err, cause)
}

func TestFileConcurrent(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("abc123"), 1024)
	m := fstest.MapFS{
		"lib/linux-x64/libPar.so": &fstest.MapFile{Data: payload},
	}
	l := archloader.New("Par", "lib", archloader.FS(m), archloader.WithEnv(linuxEnv))
	defer l.Close()

	const n = 16
	paths := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = l.File()
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, paths[0], paths[i])
	}
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	m := fstest.MapFS{
		"lib/linux-x64/libHello.so": &fstest.MapFile{Data: []byte("image")},
	}
	lk := &recordLinker{}
	h, err := archloader.Load("Hello", "lib", archloader.FS(m), lk, archloader.WithEnv(linuxEnv))
	require.NoError(t, err)
	require.Equal(t, archloader.Handle(42), h)

	// The linker saw the extracted file; Load released it afterwards.
	require.True(t, lk.present)
	_, err = os.Stat(lk.path)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoadNotSupported(t *testing.T) {
	t.Parallel()

	lk := &recordLinker{}
	_, err := archloader.Load("Hello", "lib", archloader.FS(fstest.MapFS{}), lk,
		archloader.WithEnv(linuxEnv))
	var notSupported *archloader.NotSupportedError
	require.ErrorAs(t, err, &notSupported)
	require.Empty(t, lk.path)
}

func TestLoadLinkerError(t *testing.T) {
	t.Parallel()

	m := fstest.MapFS{
		"lib/linux-x64/libHello.so": &fstest.MapFile{Data: []byte("image")},
	}
	cause := errors.New("bad image")
	_, err := archloader.Load("Hello", "lib", archloader.FS(m), &recordLinker{err: cause},
		archloader.WithEnv(linuxEnv))
	require.ErrorIs(t, err, cause)
}
