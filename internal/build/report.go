package build

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/toolchain"
)

// UnitResult is one unit's outcome.
type UnitResult struct {
	Unit   matrix.Unit
	Reused bool  // output existed already and was kept
	Err    error // nil on success
}

// Report collects everything that happened in one run: per-unit outcomes,
// per-library source failures, and group-level assembly errors. Safe for
// concurrent use.
type Report struct {
	mu      sync.Mutex
	units   []UnitResult
	sources map[library.Library]error
	errs    []error
}

func NewReport() *Report {
	return &Report{sources: make(map[library.Library]error)}
}

func (r *Report) AddUnit(unit matrix.Unit, reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, UnitResult{Unit: unit, Reused: reused})
}

func (r *Report) AddUnitError(unit matrix.Unit, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, UnitResult{Unit: unit, Err: err})
}

func (r *Report) AddSourceError(lib library.Library, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[lib] = err
}

func (r *Report) AddError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Units returns the recorded unit results, ordered by unit identity.
func (r *Report) Units() []UnitResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UnitResult, len(r.units))
	copy(out, r.units)
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.ID() < out[j].Unit.ID() })
	return out
}

// Failed reports whether anything in the run went wrong.
func (r *Report) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sources) > 0 || len(r.errs) > 0 {
		return true
	}
	for _, u := range r.units {
		if u.Err != nil {
			return true
		}
	}
	return false
}

// Err returns nil for a clean run, otherwise a single error summarizing
// every failure, one line each with unit and stage attribution.
func (r *Report) Err() error {
	if !r.Failed() {
		return nil
	}
	var lines []string
	r.mu.Lock()
	libs := make([]library.Library, 0, len(r.sources))
	for lib := range r.sources {
		libs = append(libs, lib)
	}
	sort.Slice(libs, func(i, j int) bool { return libs[i] < libs[j] })
	for _, lib := range libs {
		lines = append(lines, fmt.Sprintf("source %s: %v", lib, r.sources[lib]))
	}
	r.mu.Unlock()

	for _, u := range r.Units() {
		if u.Err == nil {
			continue
		}
		var terr *toolchain.Error
		if errors.As(u.Err, &terr) {
			lines = append(lines, fmt.Sprintf("unit %s: %s: %v", u.Unit.ID(), terr.Stage, terr.Err))
		} else {
			lines = append(lines, fmt.Sprintf("unit %s: %v", u.Unit.ID(), u.Err))
		}
	}

	r.mu.Lock()
	for _, err := range r.errs {
		lines = append(lines, err.Error())
	}
	r.mu.Unlock()

	return fmt.Errorf("%d failure(s):\n  %s", len(lines), strings.Join(lines, "\n  "))
}

// Summary renders a human-oriented one-line-per-unit account of the run.
func (r *Report) Summary() string {
	var sb strings.Builder
	for _, u := range r.Units() {
		switch {
		case u.Err != nil:
			fmt.Fprintf(&sb, "FAIL  %s: %v\n", u.Unit.ID(), u.Err)
		case u.Reused:
			fmt.Fprintf(&sb, "ok    %s (cached)\n", u.Unit.ID())
		default:
			fmt.Fprintf(&sb, "ok    %s\n", u.Unit.ID())
		}
	}
	return sb.String()
}
