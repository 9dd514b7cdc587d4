// Package build orchestrates a full run: expand the configuration into a
// build matrix, acquire sources, drive per-unit cross builds, merge the
// per-arch outputs, and publish the result tree. Unit failures never abort
// the run; every independent unit gets its attempt and the report carries
// the full outcome.
package build

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/libforge/libforge/internal/artifact"
	"github.com/libforge/libforge/internal/autotools"
	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/layout"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/par"
	"github.com/libforge/libforge/internal/platform"
	"github.com/libforge/libforge/internal/source"
	"github.com/libforge/libforge/internal/toolchain"
)

// SourceProvider yields clean checkouts for libraries.
type SourceProvider interface {
	Acquire(ctx context.Context, lib library.Library, url, ref string) (string, error)
	Clean() error
}

// Merger combines per-arch artifacts into composite ones.
type Merger interface {
	MergeGroup(ctx context.Context, group matrix.Group, handles map[platform.Arch]*toolchain.Artifact) (*artifact.Merged, error)
	CreateXCFramework(ctx context.Context, lib library.Library, version string, libType platform.LibType, universals map[platform.Platform]string) (*artifact.Merged, error)
}

// Publisher writes merged artifacts and headers into the output tree.
type Publisher interface {
	PublishHeaders(lib library.Library, headerDir string) error
	Publish(m *artifact.Merged) (string, error)
	CleanupIntermediates(platforms []platform.Platform) error
}

// DriverFunc resolves the toolchain driver for a platform.
type DriverFunc func(plat platform.Platform) toolchain.Driver

// Options customizes a Builder. Zero fields get production defaults;
// tests inject fakes here.
type Options struct {
	Force   bool // rebuild units whose outputs already exist
	Log     *zap.SugaredLogger
	Runner  autotools.Runner // nil means capture-output execution
	Source  SourceProvider
	Drivers DriverFunc
	Merger  Merger
	Layout  Publisher
}

// Builder runs builds for one configuration.
type Builder struct {
	cfg     *config.Config
	force   bool
	log     *zap.SugaredLogger
	runner  autotools.Runner
	source  SourceProvider
	drivers DriverFunc
	merger  Merger
	layout  Publisher
}

func New(cfg *config.Config, opts Options) *Builder {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Builder{
		cfg:     cfg,
		force:   opts.Force,
		log:     log,
		runner:  opts.Runner,
		source:  opts.Source,
		drivers: opts.Drivers,
		merger:  opts.Merger,
		layout:  opts.Layout,
	}
	if b.source == nil {
		b.source = source.NewProvider(cfg.Paths.RepoDir, log)
	}
	if b.drivers == nil {
		b.drivers = func(plat platform.Platform) toolchain.Driver {
			return toolchain.For(plat, cfg, toolchain.Options{
				BuildDir: cfg.Paths.BuildDir,
				Build:    cfg.Build,
				Force:    opts.Force,
				Runner:   opts.Runner,
				Log:      log,
			})
		}
	}
	if b.merger == nil {
		b.merger = artifact.NewMerger(cfg.Paths.BuildDir, log, nil)
	}
	if b.layout == nil {
		b.layout = layout.NewWriter(cfg.Paths.BuildDir, log)
	}
	return b
}

// Build runs the whole matrix. The returned error covers failures that
// prevent the run from starting (invalid selection, capability
// violations); everything after expansion is reported per unit and per
// group in the Report.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	groups, err := matrix.Expand(b.cfg)
	if err != nil {
		return nil, err
	}
	units := matrix.Units(groups)
	b.log.Infof("building %d units in %d groups", len(units), len(groups))

	report := NewReport()
	libs := selectedOrder(groups)
	checkouts := b.acquireSources(ctx, libs, report)

	handles := b.buildUnits(ctx, groups, checkouts, report)
	b.assemble(ctx, groups, handles, report)

	if !report.Failed() && !b.cfg.General.KeepIntermediate {
		if err := b.layout.CleanupIntermediates(b.cfg.SelectedPlatforms()); err != nil {
			report.AddError(fmt.Errorf("cleanup intermediates: %w", err))
		}
	}
	return report, nil
}

// selectedOrder returns the libraries of groups, deduplicated, in group
// (dependency) order.
func selectedOrder(groups []matrix.Group) []library.Library {
	var libs []library.Library
	seen := make(map[library.Library]bool)
	for _, g := range groups {
		if !seen[g.Library] {
			seen[g.Library] = true
			libs = append(libs, g.Library)
		}
	}
	return libs
}

// acquireSources checks out every selected library in parallel and makes
// sure each checkout has a configure script. Acquisition failures are
// recorded per library; the units of a failed library fail later at the
// prepare stage.
func (b *Builder) acquireSources(ctx context.Context, libs []library.Library, report *Report) map[library.Library]string {
	checkouts := make(map[library.Library]string)
	var mu sync.Mutex
	par.Each(b.cfg.Jobs(), libs, func(lib library.Library) {
		dir, err := b.source.Acquire(ctx, lib, b.cfg.RepoURL(lib), b.cfg.Version(lib))
		if err == nil {
			err = autotools.EnsureConfigure(ctx, b.runner, dir, nil)
		}
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.AddSourceError(lib, err)
			return
		}
		checkouts[lib] = dir
	})
	return checkouts
}

// buildUnits runs every unit through its platform driver, wave by wave:
// a library's units only start once every selected dependency's unit for
// the same platform and arch has finished. Within a wave all units run in
// parallel, bounded by the configured job count.
func (b *Builder) buildUnits(ctx context.Context, groups []matrix.Group, checkouts map[library.Library]string, report *Report) map[string]*toolchain.Artifact {
	handles := make(map[string]*toolchain.Artifact)
	built := make(map[string]bool) // lib/platform/arch of completed units
	var mu sync.Mutex

	for _, wave := range waves(selectedOrder(groups)) {
		var units []matrix.Unit
		for _, g := range groups {
			if wave[g.Library] {
				units = append(units, g.Units...)
			}
		}
		indexes := make([]int, len(units))
		for i := range units {
			indexes[i] = i
		}
		// Dependencies all live in earlier waves, so the wave reads a
		// frozen view of what is built and publishes its own results
		// only after every worker returns.
		done := make([]bool, len(units))
		par.Each(b.cfg.Jobs(), indexes, func(i int) {
			unit := units[i]
			handle, err := b.buildUnit(ctx, unit, checkouts, built)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.AddUnitError(unit, err)
				return
			}
			handles[unit.ID()] = handle
			done[i] = true
			report.AddUnit(unit, handle.Reused)
		})
		for i, unit := range units {
			if done[i] {
				built[depKey(unit.Library, unit.Platform, unit.Arch)] = true
			}
		}
	}
	return handles
}

func (b *Builder) buildUnit(ctx context.Context, unit matrix.Unit, checkouts map[library.Library]string, built map[string]bool) (*toolchain.Artifact, error) {
	prepareErr := func(err error) error {
		return &toolchain.Error{Unit: unit, Stage: toolchain.StagePrepare, Err: err}
	}
	srcDir, ok := checkouts[unit.Library]
	if !ok {
		return nil, prepareErr(fmt.Errorf("source for %s was not acquired", unit.Library))
	}
	info, _ := library.Lookup(unit.Library)
	for _, dep := range info.Deps {
		if _, selected := checkouts[dep]; !selected {
			continue
		}
		if !built[depKey(dep, unit.Platform, unit.Arch)] {
			return nil, prepareErr(fmt.Errorf("dependency %s is not built for %s/%s", dep, unit.Platform, unit.Arch))
		}
	}
	return b.drivers(unit.Platform).Build(ctx, unit, srcDir)
}

func depKey(lib library.Library, plat platform.Platform, arch platform.Arch) string {
	return fmt.Sprintf("%s/%s/%s", lib, plat, arch)
}

// waves partitions libs (already in dependency order) so that a library
// lands in the wave after the deepest of its selected dependencies.
func waves(libs []library.Library) []map[library.Library]bool {
	selected := make(map[library.Library]bool, len(libs))
	for _, lib := range libs {
		selected[lib] = true
	}
	depth := make(map[library.Library]int, len(libs))
	max := 0
	for _, lib := range libs {
		d := 0
		info, _ := library.Lookup(lib)
		for _, dep := range info.Deps {
			if selected[dep] && depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[lib] = d
		if d > max {
			max = d
		}
	}
	out := make([]map[library.Library]bool, max+1)
	for i := range out {
		out[i] = make(map[library.Library]bool)
	}
	for _, lib := range libs {
		out[depth[lib]][lib] = true
	}
	return out
}

// assemble merges each fully built group, publishes headers and per-ABI
// trees, and bundles darwin universals into one xcframework per library.
func (b *Builder) assemble(ctx context.Context, groups []matrix.Group, handles map[string]*toolchain.Artifact, report *Report) {
	universals := make(map[library.Library]map[platform.Platform]string)
	libTypes := make(map[library.Library]platform.LibType)
	versions := make(map[library.Library]string)

	for _, g := range groups {
		groupHandles := make(map[platform.Arch]*toolchain.Artifact)
		for _, u := range g.Units {
			if h, ok := handles[u.ID()]; ok {
				groupHandles[u.Arch] = h
			}
		}
		merged, err := b.merger.MergeGroup(ctx, g, groupHandles)
		if err != nil {
			report.AddError(err)
			continue
		}
		if h := groupHandles[g.Units[0].Arch]; h != nil {
			if err := b.layout.PublishHeaders(g.Library, h.HeaderDir); err != nil {
				report.AddError(err)
			}
		}
		switch merged.Kind {
		case artifact.Universal:
			if universals[g.Library] == nil {
				universals[g.Library] = make(map[platform.Platform]string)
			}
			universals[g.Library][g.Platform] = merged.Path
			libTypes[g.Library] = g.LibType
			versions[g.Library] = g.Version
		default:
			if _, err := b.layout.Publish(merged); err != nil {
				report.AddError(fmt.Errorf("publish %s: %w", g.ID(), err))
			}
		}
	}

	for _, lib := range selectedOrder(groups) {
		slices := universals[lib]
		if len(slices) == 0 {
			continue
		}
		merged, err := b.merger.CreateXCFramework(ctx, lib, versions[lib], libTypes[lib], slices)
		if err != nil {
			report.AddError(fmt.Errorf("xcframework %s: %w", lib, err))
			continue
		}
		if _, err := b.layout.Publish(merged); err != nil {
			report.AddError(fmt.Errorf("publish %s xcframework: %w", lib, err))
		}
	}
}

// Clean removes the build tree. Unless buildOnly is set it also drops the
// checkout cache, forcing the next run to clone everything again.
func (b *Builder) Clean(buildOnly bool) error {
	b.log.Infof("removing %s", b.cfg.Paths.BuildDir)
	if err := os.RemoveAll(b.cfg.Paths.BuildDir); err != nil {
		return err
	}
	if buildOnly {
		return nil
	}
	b.log.Infof("removing %s", b.cfg.Paths.RepoDir)
	return b.source.Clean()
}
