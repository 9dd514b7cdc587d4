// Package library holds the registry of upstream libraries the tool knows
// how to build: their repository names, header layout, and build-order
// dependencies.
package library

import (
	"fmt"
	"path"
)

// Library identifies a known upstream library by its canonical lib-prefixed
// name as it appears in configuration.
type Library string

const (
	Libogg      Library = "libogg"
	Libopus     Library = "libopus"
	Libopusenc  Library = "libopusenc"
	Libopusfile Library = "libopusfile"
)

// Info describes how a library maps onto its upstream repository and build
// prerequisites.
type Info struct {
	// Repo is the upstream repository name appended to the configured
	// repo prefix. Not always the lib-prefixed name: opusfile lives in
	// "opusfile", but libopusenc keeps its prefix upstream.
	Repo string

	// IncludeDir is the header directory relative to an install prefix.
	IncludeDir string

	// Deps are libraries that must be built and installed before this
	// one so their headers and libs can be put on the search path.
	Deps []Library

	// PreserveGlobs name files cached before a source clean and restored
	// after, relative to the checkout root. libopus ships a model tarball
	// that autogen.sh would otherwise re-download on every pristine clean.
	PreserveGlobs []string
}

var registry = map[Library]Info{
	Libogg: {
		Repo:       "ogg",
		IncludeDir: path.Join("include", "ogg"),
	},
	Libopus: {
		Repo:          "opus",
		IncludeDir:    path.Join("include", "opus"),
		PreserveGlobs: []string{"opus_data-*.tar.gz"},
	},
	Libopusenc: {
		Repo:       "libopusenc",
		IncludeDir: path.Join("include", "opus"),
		Deps:       []Library{Libopus},
	},
	Libopusfile: {
		Repo:       "opusfile",
		IncludeDir: path.Join("include", "opus"),
		Deps:       []Library{Libopus, Libogg},
	},
}

// Lookup returns registry info for lib.
func Lookup(lib Library) (Info, bool) {
	info, ok := registry[lib]
	return info, ok
}

// Known reports whether lib is in the registry.
func Known(lib Library) bool {
	_, ok := registry[lib]
	return ok
}

// Repo returns the upstream repository name for lib, or the library name
// itself when unknown (callers should have validated first).
func (l Library) Repo() string {
	if info, ok := registry[l]; ok {
		return info.Repo
	}
	return string(l)
}

// FileName returns the library file name for the given extension,
// e.g. "libogg.a".
func (l Library) FileName(ext string) string {
	return string(l) + "." + ext
}

// SortByDeps orders libs so that every library appears after all of its
// registry dependencies. The relative order of independent libraries is
// preserved. Returns an error on a dependency cycle (impossible with the
// current registry, but the registry is data, not code).
func SortByDeps(libs []Library) ([]Library, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[Library]int, len(libs))
	requested := make(map[Library]bool, len(libs))
	for _, l := range libs {
		requested[l] = true
	}

	var order []Library
	var visit func(l Library) error
	visit = func(l Library) error {
		switch state[l] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through %s", l)
		}
		state[l] = visiting
		if info, ok := registry[l]; ok {
			for _, dep := range info.Deps {
				if !requested[dep] {
					continue // dep not selected for this run
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[l] = done
		order = append(order, l)
		return nil
	}
	for _, l := range libs {
		if err := visit(l); err != nil {
			return nil, err
		}
	}
	return order, nil
}
