// Package matrix expands a validated configuration into the ordered set of
// build units and merge groups for one run.
package matrix

import (
	"fmt"

	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/platform"
)

// Unit is one compile task. Identity is (Library, Platform, Arch, LibType);
// units are immutable after expansion.
type Unit struct {
	Library  library.Library
	Platform platform.Platform
	Arch     platform.Arch
	LibType  platform.LibType

	// Version is the configured git ref of the library.
	Version string

	// ConfigureFlags holds global configure flags followed by the
	// library's own, in override order (user flags last).
	ConfigureFlags []string

	// CFlags and LDFlags are the library's extra flags, appended after
	// the toolchain's required flags.
	CFlags  string
	LDFlags string
}

// ID returns the stable identity string of the unit.
func (u Unit) ID() string {
	return fmt.Sprintf("%s/%s/%s/%s", u.Library, u.Platform, u.Arch, u.LibType)
}

func (u Unit) String() string { return u.ID() }

// Group is the set of units that merge into one composite artifact: same
// library, platform, and lib type, varying only by arch.
type Group struct {
	Library  library.Library
	Platform platform.Platform
	LibType  platform.LibType
	Version  string
	Units    []Unit
}

// Archs returns the group's archs in declaration order.
func (g Group) Archs() []platform.Arch {
	out := make([]platform.Arch, len(g.Units))
	for i, u := range g.Units {
		out[i] = u.Arch
	}
	return out
}

// ID returns the stable identity string of the group.
func (g Group) ID() string {
	return fmt.Sprintf("%s/%s/%s", g.Library, g.Platform, g.LibType)
}

// Expand derives the ordered group sequence from cfg. Libraries iterate
// outermost in dependency order, then platforms and archs in configuration
// order, so identical configurations always produce identical sequences.
// Every (platform, arch, lib type) combination is checked against the
// capability table before anything is built.
func Expand(cfg *config.Config) ([]Group, error) {
	libs, err := library.SortByDeps(cfg.SelectedLibraries())
	if err != nil {
		return nil, &config.Error{Field: "general.libraries", Msg: err.Error()}
	}

	var groups []Group
	seen := make(map[string]bool)
	for _, lib := range libs {
		for _, plat := range cfg.SelectedPlatforms() {
			libType := cfg.LibType(plat)
			if !plat.SupportsLibType(libType) {
				return nil, &platform.UnsupportedError{Platform: plat, LibType: libType}
			}
			group := Group{
				Library:  lib,
				Platform: plat,
				LibType:  libType,
				Version:  cfg.Version(lib),
			}
			for _, arch := range cfg.Archs(plat) {
				if !plat.SupportsArch(arch) {
					return nil, &config.Error{
						Field: fmt.Sprintf("platforms.%s.archs", plat),
						Msg:   fmt.Sprintf("arch %q not supported on %s", arch, plat),
					}
				}
				unit := Unit{
					Library:        lib,
					Platform:       plat,
					Arch:           arch,
					LibType:        libType,
					Version:        cfg.Version(lib),
					ConfigureFlags: resolveConfigureFlags(cfg, lib),
					CFlags:         cfg.Library(lib).CFlags,
					LDFlags:        cfg.Library(lib).LDFlags,
				}
				if seen[unit.ID()] {
					continue
				}
				seen[unit.ID()] = true
				group.Units = append(group.Units, unit)
			}
			if len(group.Units) > 0 {
				groups = append(groups, group)
			}
		}
	}
	return groups, nil
}

// resolveConfigureFlags concatenates global flags then per-library flags;
// the underlying tool gives the last occurrence of a flag precedence, so
// library flags win.
func resolveConfigureFlags(cfg *config.Config, lib library.Library) []string {
	global := cfg.Build.ConfigureFlags
	local := cfg.Library(lib).ConfigureFlags
	out := make([]string, 0, len(global)+len(local))
	out = append(out, global...)
	out = append(out, local...)
	return out
}

// Units flattens groups into the ordered unit sequence.
func Units(groups []Group) []Unit {
	var out []Unit
	for _, g := range groups {
		out = append(out, g.Units...)
	}
	return out
}
