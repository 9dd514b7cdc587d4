// Package platform defines the closed set of build targets and the static
// capability table consulted during build matrix expansion. The table is the
// single source of truth for what this tool can build: adding a platform
// means adding a row here plus a toolchain driver, nothing else.
package platform

import (
	"fmt"
	"slices"
)

// Platform is a named build target OS/environment.
type Platform string

const (
	MacOS   Platform = "macos"
	IOS     Platform = "ios"
	IOSSim  Platform = "ios-sim"
	Android Platform = "android"
	Harmony Platform = "harmony"
)

// Arch is a named target architecture. For Android and Harmony the name is
// the ABI directory name.
type Arch string

const (
	Arm64      Arch = "arm64"
	X86_64     Arch = "x86_64"
	X86        Arch = "x86"
	Arm64V8a   Arch = "arm64-v8a"
	ArmeabiV7a Arch = "armeabi-v7a"
)

// LibType selects static or shared library output.
type LibType string

const (
	Static LibType = "static"
	Shared LibType = "shared"
)

// Capabilities is one row of the capability table.
type Capabilities struct {
	Archs    []Arch
	LibTypes []LibType
}

// table enumerates every platform the tool can build. Apple shared libraries
// are deliberately absent: requesting one must fail fast, not degrade.
var table = map[Platform]Capabilities{
	MacOS:   {Archs: []Arch{Arm64, X86_64}, LibTypes: []LibType{Static}},
	IOS:     {Archs: []Arch{Arm64, X86_64}, LibTypes: []LibType{Static}},
	IOSSim:  {Archs: []Arch{Arm64, X86_64}, LibTypes: []LibType{Static}},
	Android: {Archs: []Arch{Arm64V8a, ArmeabiV7a, X86_64, X86}, LibTypes: []LibType{Static, Shared}},
	Harmony: {Archs: []Arch{Arm64V8a, ArmeabiV7a, X86_64}, LibTypes: []LibType{Static, Shared}},
}

// All returns every known platform in a stable order.
func All() []Platform {
	return []Platform{MacOS, IOS, IOSSim, Android, Harmony}
}

// Known reports whether name is a recognized platform.
func Known(p Platform) bool {
	_, ok := table[p]
	return ok
}

// Lookup returns the capability row for p.
func Lookup(p Platform) (Capabilities, bool) {
	c, ok := table[p]
	return c, ok
}

// IsDarwin reports whether p is an Apple target.
func (p Platform) IsDarwin() bool {
	return p == MacOS || p == IOS || p == IOSSim
}

// OutputFamily returns the top-level directory under build/lib for p:
// all Apple variants collapse into "darwin".
func (p Platform) OutputFamily() string {
	if p.IsDarwin() {
		return "darwin"
	}
	return string(p)
}

// SupportsArch reports whether p can target arch.
func (p Platform) SupportsArch(arch Arch) bool {
	c, ok := table[p]
	return ok && slices.Contains(c.Archs, arch)
}

// SupportsLibType reports whether p can produce lt output.
func (p Platform) SupportsLibType(lt LibType) bool {
	c, ok := table[p]
	return ok && slices.Contains(c.LibTypes, lt)
}

// Ext returns the library file extension for lt on p, without the dot.
func (p Platform) Ext(lt LibType) string {
	if lt == Static {
		return "a"
	}
	if p.IsDarwin() {
		return "dylib"
	}
	return "so"
}

// UnsupportedError reports a (platform, arch, lib-type) combination that is
// explicitly outside the capability table. It is raised during matrix
// expansion, before any source acquisition or toolchain invocation.
type UnsupportedError struct {
	Platform Platform
	Arch     Arch    // empty when the lib type is at fault
	LibType  LibType // empty when the arch is at fault
}

func (e *UnsupportedError) Error() string {
	switch {
	case e.Arch != "":
		return fmt.Sprintf("platform %s does not support arch %s", e.Platform, e.Arch)
	case e.LibType != "":
		return fmt.Sprintf("platform %s does not support %s libraries", e.Platform, e.LibType)
	default:
		return fmt.Sprintf("unsupported platform %s", e.Platform)
	}
}
