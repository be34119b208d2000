// Package version carries this bridge's own build identity, as
// distinct from the abi.Version a sandboxed bundle reports about
// itself through its clap_entry record (spec §6).
//
// Build, Commit and Date are overwritten at link time with
// -ldflags "-X .../internal/version.Build=1.3.0 -X .../internal/version.Commit=... -X .../internal/version.Date=...";
// the zero values below are what a `go build` with no ldflags reports.
package version

import (
	"fmt"
	"runtime/debug"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

var (
	Build  = "dev"
	Commit = "unknown"
	Date   = "unknown"
)

// Info is the bridge binary's own version identity, returned by
// wclapctl version and usable anywhere a human-readable build string
// is needed.
type Info struct {
	Build  string
	Commit string
	Date   string
	Go     string
}

// Get reads the linker-set variables above, falling back to the Go
// toolchain's embedded VCS metadata (available since go 1.18 for
// `go install`-built binaries) when Commit is still "unknown".
func Get() Info {
	info := Info{Build: Build, Commit: Commit, Date: Date, Go: goVersion()}
	if info.Commit != "unknown" {
		return info
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.time":
			info.Date = s.Value
		}
	}
	return info
}

func goVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return bi.GoVersion
}

// String renders a one-line human-readable form, e.g.
// "1.3.0 (commit a1b2c3d, built 2026-01-04T00:00:00Z, go1.25.5)".
func (i Info) String() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", i.Build, i.Commit, i.Date, i.Go)
}

// Triple packs the build's numeric major/minor/patch into an
// abi.Version, the shape the outer C ABI's version() export and
// clap_plugin_entry both use (spec §6 line "version(opaque) -> pointer
// to {major, minor, revision}"). Non-numeric builds (the "dev" default,
// or a non-semver tag) report 0.0.0.
func (i Info) Triple() abi.Version {
	var major, minor, patch uint32
	fmt.Sscanf(i.Build, "%d.%d.%d", &major, &minor, &patch)
	return abi.Version{Major: major, Minor: minor, Revision: patch}
}
