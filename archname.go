package archloader

import (
	"math/bits"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/phuslu/log"
)

// DmallocEnv selects debug-allocator library builds when present in the
// process environment, even with an empty value.
const DmallocEnv = "ARCHLOADER_DMALLOC"

// Env is a snapshot of the host properties that decide which native
// library build a process can load. Construct one explicitly to resolve
// for a foreign platform; Current returns the probed host.
type Env struct {
	OS      string // reported OS name, e.g. "Linux", "Windows Server 2022"
	Version string // reported OS release, e.g. "6.1", "B.11.31"
	Arch    string // reported machine architecture, e.g. "amd64", "sparcv9"
	Bits    int    // process address width, 32 or 64
	Dmalloc bool   // select debug-allocator builds
}

func (e Env) is64() bool { return e.Bits == 64 }

func (e Env) isWindows() bool { return strings.HasPrefix(e.OS, "Windows") }

func (e Env) isOSX() bool { return e.OS == "Mac OS X" || e.OS == "Darwin" }

// Tag returns the canonical platform tag, the directory component that
// selects a build inside a library bundle: "linux-x64", "freebsd-10-x64",
// "windows-arm64" and so on. Tag never fails; an unrecognized system
// yields a tag from the reported name and release verbatim, which simply
// matches no bundled build.
func (e Env) Tag() string {
	arch := e.ArchName()
	major := e.majorVersion()

	var tag string
	switch {
	case e.OS == "Linux":
		tag = compose("linux", "", arch)
	case e.isWindows():
		tag = compose("windows", "", arch)
	case e.OS == "SunOS":
		tag = compose("solaris", "", arch)
	case e.isOSX():
		tag = compose("osx", "", arch)
	case e.OS == "HP-UX":
		// HP-UX bundles carry the full release string, fused
		// letter prefix and all: hpux-B.11.31-ia64.
		tag = compose("hpux", e.Version, arch)
	case e.OS == "AIX":
		if major == "6" {
			// The 5.x build is compatible with 6.x.
			major = "5"
		}
		tag = compose("aix", major, arch)
	case e.OS == "FreeBSD":
		tag = compose("freebsd", major, arch)
	case e.OS == "OpenBSD":
		tag = compose("openbsd", major, arch)
	case e.OS == "NetBSD":
		tag = compose("netbsd", major, arch)
	case e.OS == "OSF1":
		tag = compose("osf1", major, arch)
	case e.OS == "NetWare":
		tag = compose("netware", major, arch)
	default:
		tag = compose(e.OS, e.Version, arch)
	}
	if e.Dmalloc {
		tag += "-dmalloc"
	}
	return tag
}

// ArchName returns the canonical architecture component of the tag.
// Families the bundles distinguish are folded to their historical names;
// anything else passes through lower-cased.
func (e Env) ArchName() string {
	arch := strings.ToLower(e.Arch)
	switch {
	case strings.Contains(arch, "86") || arch == "amd64":
		if e.is64() {
			return "x64"
		}
		return "x86"
	case strings.Contains(arch, "arm"):
		if e.is64() {
			return "arm64"
		}
		return "arm"
	case strings.Contains(arch, "power") || strings.Contains(arch, "ppc"):
		if e.is64() {
			return "ppc64"
		}
		return "ppc"
	case strings.HasPrefix(arch, "sparc"):
		if e.is64() {
			return "sparc64"
		}
		return "sparc"
	case strings.HasPrefix(arch, "ia64"):
		return "ia64"
	case strings.HasPrefix(arch, "pa"):
		if e.is64() {
			return "pa64"
		}
		return "pa"
	}
	return arch
}

// LibFileName maps a bare library name to the platform's file naming
// convention: "Native" becomes libNative.so, myLibrary.dll or
// libNative.dylib. The name's case is preserved.
func (e Env) LibFileName(name string) string {
	switch {
	case e.isWindows():
		return name + ".dll"
	case e.isOSX():
		return "lib" + name + ".dylib"
	}
	return "lib" + name + ".so"
}

// majorVersion is the release text before the first dot, or the whole
// release when it has none.
func (e Env) majorVersion() string {
	if i := strings.IndexByte(e.Version, '.'); i >= 0 {
		return e.Version[:i]
	}
	return e.Version
}

// compose joins tag components with dashes, skipping empty ones.
func compose(name, version, arch string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{name, version, arch} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

func hostEnv() Env {
	name, version := probeOS()
	_, dmalloc := os.LookupEnv(DmallocEnv)
	return Env{
		OS:      name,
		Version: version,
		Arch:    runtime.GOARCH,
		Bits:    bits.UintSize,
		Dmalloc: dmalloc,
	}
}

var current = sync.OnceValue(hostEnv)

// Current returns the host environment. The probe runs once per process.
func Current() Env {
	return current()
}

var hostTag = sync.OnceValue(func() string {
	tag := Current().Tag()
	log.Debug().Msgf("Host platform resolved to %s", tag)
	return tag
})

// Tag returns Current().Tag(), computed once per process.
func Tag() string {
	return hostTag()
}

// reportedOS maps a GOOS value to the name the platform reports for
// itself, for hosts with no kernel interface to ask.
func reportedOS(goos string) string {
	switch goos {
	case "linux":
		return "Linux"
	case "windows":
		return "Windows"
	case "darwin", "ios":
		return "Darwin"
	case "solaris", "illumos":
		return "SunOS"
	case "aix":
		return "AIX"
	case "freebsd":
		return "FreeBSD"
	case "openbsd":
		return "OpenBSD"
	case "netbsd":
		return "NetBSD"
	case "dragonfly":
		return "DragonFly"
	}
	return goos
}
