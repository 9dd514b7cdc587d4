// Package toolchain builds single units through platform-specific native
// toolchains. Drivers form a closed set: one per supported platform plus an
// explicit unsupported variant that fails fast instead of guessing.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/libforge/libforge/internal/autotools"
	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
)

// Stage identifies which phase of a unit build failed.
type Stage string

const (
	StagePrepare   Stage = "prepare"
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StageInstall   Stage = "install"
)

// Error attributes a failure to one unit and one stage. A matrix build
// reports every failing unit, so precise attribution is required.
type Error struct {
	Unit  matrix.Unit
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Unit.ID(), e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Artifact is the output of a successful unit build: the isolated install
// prefix and the files downstream stages consume.
type Artifact struct {
	Unit       matrix.Unit
	Prefix     string // build/<platform>/<arch>/<repo>
	LibFile    string // <prefix>/lib/<library>.<ext>
	IncludeDir string // <prefix>/include
	HeaderDir  string // <prefix>/<registry header dir>, e.g. include/ogg
	Reused     bool   // true when a prior build was resumed untouched
}

// Driver performs the native configure/build/install sequence for one unit.
type Driver interface {
	Build(ctx context.Context, unit matrix.Unit, sourceDir string) (*Artifact, error)
}

// OutputFunc runs a host tool and returns its trimmed stdout. Injected so
// tests can script xcrun and friends.
type OutputFunc func(ctx context.Context, name string, args ...string) (string, error)

// Options configures driver construction.
type Options struct {
	BuildDir string
	Build    config.Build
	Force    bool // rebuild even when the unit's output already exists
	Runner   autotools.Runner
	Output   OutputFunc
	Log      *zap.SugaredLogger
}

func (o *Options) logger() *zap.SugaredLogger {
	if o.Log == nil {
		return zap.NewNop().Sugar()
	}
	return o.Log
}

// For returns the driver for plat. Unknown platforms and capability gaps
// come back as the unsupported variant; they report, never build.
func For(plat platform.Platform, cfg *config.Config, opts Options) Driver {
	base := base{
		buildDir: opts.BuildDir,
		build:    opts.Build,
		force:    opts.Force,
		run:      opts.Runner,
		log:      opts.logger(),
	}
	switch plat {
	case platform.MacOS, platform.IOS, platform.IOSSim:
		return &darwinDriver{base: base, section: cfg.Platform(plat), xcrun: opts.Output}
	case platform.Android:
		return &androidDriver{base: base, section: cfg.Platform(plat)}
	case platform.Harmony:
		return &harmonyDriver{base: base, section: cfg.Platform(plat)}
	default:
		return &unsupportedDriver{platform: plat}
	}
}

// env is the prepared cross-compilation environment for one unit.
type env struct {
	host    string // configure --host triple
	cc      string
	cxx     string
	extra   map[string]string
	cflags  string // required + platform-derived flags
	ldflags string
}

type base struct {
	buildDir string
	build    config.Build
	force    bool
	run      autotools.Runner
	log      *zap.SugaredLogger
}

// unitPrefix returns the identity-scoped install prefix for unit.
func (b *base) unitPrefix(unit matrix.Unit) string {
	return filepath.Join(b.buildDir, string(unit.Platform), string(unit.Arch), unit.Library.Repo())
}

// buildUnit runs the shared autotools sequence under the prepared env.
// Flag precedence, first to last: built-in required flags, platform-derived
// flags, user flags. The underlying tools let the last occurrence win.
func (b *base) buildUnit(ctx context.Context, unit matrix.Unit, sourceDir string, e *env) (*Artifact, error) {
	prefix := b.unitPrefix(unit)
	info, _ := library.Lookup(unit.Library)
	art := &Artifact{
		Unit:       unit,
		Prefix:     prefix,
		LibFile:    filepath.Join(prefix, "lib", unit.Library.FileName(unit.Platform.Ext(unit.LibType))),
		IncludeDir: filepath.Join(prefix, "include"),
		HeaderDir:  filepath.Join(prefix, filepath.FromSlash(info.IncludeDir)),
	}

	if !b.force {
		if _, err := os.Stat(art.LibFile); err == nil {
			b.log.Infof("%s: up to date, skipping", unit.ID())
			art.Reused = true
			return art, nil
		}
	}

	cflags := joinFlags(e.cflags, unit.CFlags)
	ldflags := joinFlags(e.ldflags, unit.LDFlags)
	var pkgConfigPath []string
	for _, dep := range info.Deps {
		depPrefix := filepath.Join(b.buildDir, string(unit.Platform), string(unit.Arch), dep.Repo())
		if _, err := os.Stat(filepath.Join(depPrefix, "lib")); err != nil {
			b.log.Debugf("%s: dependency %s not installed at %s", unit.ID(), dep, depPrefix)
			continue
		}
		cflags = joinFlags(cflags, "-I"+filepath.Join(depPrefix, "include"))
		ldflags = joinFlags(ldflags, "-L"+filepath.Join(depPrefix, "lib"))
		pkgConfigPath = append(pkgConfigPath, filepath.Join(depPrefix, "lib", "pkgconfig"))
	}

	at := autotools.New(sourceDir, filepath.Join(prefix, "obj"), prefix)
	if b.run != nil {
		at.SetRunner(b.run)
	}
	at.Env("CC", e.cc)
	at.Env("CFLAGS", cflags)
	at.Env("LDFLAGS", ldflags)
	if e.cxx != "" {
		at.Env("CXX", e.cxx)
		at.Env("CXXFLAGS", cflags)
	}
	if len(pkgConfigPath) > 0 {
		at.Env("PKG_CONFIG_PATH", strings.Join(pkgConfigPath, ":"))
	}
	for k, v := range e.extra {
		at.Env(k, v)
	}

	configureArgs := []string{"--host=" + e.host}
	switch unit.LibType {
	case platform.Static:
		configureArgs = append(configureArgs, "--enable-static", "--disable-shared")
	case platform.Shared:
		configureArgs = append(configureArgs, "--enable-shared", "--disable-static")
	}
	configureArgs = append(configureArgs, unit.ConfigureFlags...)

	b.log.Infof("%s: configure", unit.ID())
	if err := at.Configure(ctx, configureArgs...); err != nil {
		return nil, &Error{Unit: unit, Stage: StageConfigure, Err: err}
	}
	b.log.Infof("%s: make -j%d", unit.ID(), b.jobs())
	if err := at.Build(ctx, fmt.Sprintf("-j%d", b.jobs())); err != nil {
		return nil, &Error{Unit: unit, Stage: StageBuild, Err: err}
	}
	b.log.Infof("%s: make install", unit.ID())
	if err := at.Install(ctx); err != nil {
		return nil, &Error{Unit: unit, Stage: StageInstall, Err: err}
	}

	if _, err := os.Stat(art.LibFile); err != nil {
		return nil, &Error{Unit: unit, Stage: StageInstall, Err: fmt.Errorf("expected library missing: %s", art.LibFile)}
	}
	return art, nil
}

func (b *base) jobs() int {
	if b.build.Jobs < 1 {
		return 1
	}
	return b.build.Jobs
}

func joinFlags(parts ...string) string {
	var fields []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	return strings.Join(fields, " ")
}
