package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/libforge/libforge/internal/artifact"
	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
	"github.com/libforge/libforge/internal/toolchain"
)

func testConfig(t *testing.T, libs, platforms []string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.General.Libraries = libs
	cfg.General.Platforms = platforms
	cfg.Paths.BuildDir = filepath.Join(t.TempDir(), "build")
	cfg.Paths.RepoDir = filepath.Join(t.TempDir(), "repos")
	require.NoError(t, cfg.Validate())
	return cfg
}

type fakeSource struct {
	mu      sync.Mutex
	dir     string
	fail    map[library.Library]error
	cleaned bool
}

func (s *fakeSource) Acquire(_ context.Context, lib library.Library, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[lib]; err != nil {
		return "", err
	}
	dir := filepath.Join(s.dir, lib.Repo())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	// A configure script so no autogen run is attempted.
	if err := os.WriteFile(filepath.Join(dir, "configure"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *fakeSource) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = true
	return nil
}

// fakeDriver records the order units reach it and can fail selected ones.
type fakeDriver struct {
	mu    sync.Mutex
	order []string
	fail  map[string]error // by unit ID
}

func (d *fakeDriver) Build(_ context.Context, unit matrix.Unit, sourceDir string) (*toolchain.Artifact, error) {
	d.mu.Lock()
	d.order = append(d.order, unit.ID())
	err := d.fail[unit.ID()]
	d.mu.Unlock()
	if err != nil {
		return nil, &toolchain.Error{Unit: unit, Stage: toolchain.StageBuild, Err: err}
	}
	prefix := filepath.Join(sourceDir, "prefix", unit.ID())
	return &toolchain.Artifact{
		Unit:       unit,
		Prefix:     prefix,
		LibFile:    filepath.Join(prefix, "lib", unit.Library.FileName("a")),
		IncludeDir: filepath.Join(prefix, "include"),
		HeaderDir:  filepath.Join(prefix, "include", string(unit.Library)),
	}, nil
}

func (d *fakeDriver) built() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

type fakeMerger struct {
	mu           sync.Mutex
	merged       []string // group IDs
	xcframeworks []library.Library
	kind         map[platform.Platform]artifact.Kind
}

func (m *fakeMerger) MergeGroup(_ context.Context, group matrix.Group, handles map[platform.Arch]*toolchain.Artifact) (*artifact.Merged, error) {
	var missing []platform.Arch
	for _, arch := range group.Archs() {
		if handles[arch] == nil {
			missing = append(missing, arch)
		}
	}
	if len(missing) > 0 {
		return nil, &artifact.IncompleteGroupError{Group: group, Missing: missing}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merged = append(m.merged, group.ID())
	kind := artifact.ABITree
	if group.Platform.IsDarwin() {
		kind = artifact.Universal
	}
	return &artifact.Merged{
		Library:  group.Library,
		Version:  group.Version,
		Kind:     kind,
		Platform: group.Platform,
		Path:     filepath.Join("staged", group.ID()),
	}, nil
}

func (m *fakeMerger) CreateXCFramework(_ context.Context, lib library.Library, version string, _ platform.LibType, universals map[platform.Platform]string) (*artifact.Merged, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(universals) == 0 {
		return nil, fmt.Errorf("no universals for %s", lib)
	}
	m.xcframeworks = append(m.xcframeworks, lib)
	return &artifact.Merged{Library: lib, Version: version, Kind: artifact.XCFramework, Path: "staged/" + string(lib)}, nil
}

type fakeLayout struct {
	mu        sync.Mutex
	headers   map[library.Library]int
	published []*artifact.Merged
	cleaned   bool
}

func newFakeLayout() *fakeLayout {
	return &fakeLayout{headers: make(map[library.Library]int)}
}

func (l *fakeLayout) PublishHeaders(lib library.Library, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.headers[lib]++
	return nil
}

func (l *fakeLayout) Publish(m *artifact.Merged) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = append(l.published, m)
	return m.Path, nil
}

func (l *fakeLayout) CleanupIntermediates([]platform.Platform) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleaned = true
	return nil
}

func newTestBuilder(t *testing.T, cfg *config.Config) (*Builder, *fakeSource, *fakeDriver, *fakeMerger, *fakeLayout) {
	src := &fakeSource{dir: t.TempDir(), fail: map[library.Library]error{}}
	driver := &fakeDriver{fail: map[string]error{}}
	merger := &fakeMerger{}
	lay := newFakeLayout()
	b := New(cfg, Options{
		Source:  src,
		Drivers: func(platform.Platform) toolchain.Driver { return driver },
		Merger:  merger,
		Layout:  lay,
	})
	return b, src, driver, merger, lay
}

func TestBuildAndroid(t *testing.T) {
	cfg := testConfig(t, []string{"libogg", "libopus"}, []string{"android"})
	cfg.Platforms["android"] = config.PlatformSection{
		NDKPath: "/ndk", APILevel: 21,
		Archs: []string{"arm64-v8a", "x86_64"}, LibType: "shared",
	}
	b, _, driver, merger, lay := newTestBuilder(t, cfg)

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.False(t, report.Failed())

	require.Len(t, driver.built(), 4)
	require.ElementsMatch(t, []string{"libogg/android/shared", "libopus/android/shared"}, merger.merged)

	// Two ABI trees published, no xcframeworks on Android.
	require.Len(t, lay.published, 2)
	for _, m := range lay.published {
		require.Equal(t, artifact.ABITree, m.Kind)
	}
	require.Empty(t, merger.xcframeworks)
	require.Equal(t, 1, lay.headers[library.Libogg])
	require.True(t, lay.cleaned)
}

func TestBuildDarwinCreatesOneXCFrameworkPerLibrary(t *testing.T) {
	cfg := testConfig(t, []string{"libopus"}, []string{"ios", "ios-sim"})
	b, _, driver, merger, lay := newTestBuilder(t, cfg)

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	// ios arm64 + ios-sim arm64 and x86_64.
	require.Len(t, driver.built(), 3)
	require.ElementsMatch(t, []string{"libopus/ios/static", "libopus/ios-sim/static"}, merger.merged)
	require.Equal(t, []library.Library{library.Libopus}, merger.xcframeworks)

	require.Len(t, lay.published, 1)
	require.Equal(t, artifact.XCFramework, lay.published[0].Kind)
	// Headers published once per merged group.
	require.Equal(t, 2, lay.headers[library.Libopus])
}

func TestBuildDependencyOrder(t *testing.T) {
	cfg := testConfig(t, []string{"libopusfile", "libopus", "libogg"}, []string{"ios"})
	b, _, driver, _, _ := newTestBuilder(t, cfg)

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())

	pos := make(map[string]int)
	for i, id := range driver.built() {
		pos[id] = i
	}
	require.Less(t, pos["libogg/ios/arm64/static"], pos["libopusfile/ios/arm64/static"])
	require.Less(t, pos["libopus/ios/arm64/static"], pos["libopusfile/ios/arm64/static"])
}

func TestBuildSourceFailureFailsUnitsAndGroup(t *testing.T) {
	cfg := testConfig(t, []string{"libogg", "libopus"}, []string{"android"})
	b, src, driver, merger, lay := newTestBuilder(t, cfg)
	src.fail[library.Libogg] = fmt.Errorf("clone refused")

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.True(t, report.Failed())
	require.ErrorContains(t, report.Err(), "clone refused")

	// libogg units never reach the driver; libopus still builds.
	for _, id := range driver.built() {
		require.Contains(t, id, "libopus/")
	}
	require.Equal(t, []string{"libopus/android/shared"}, merger.merged)
	// Intermediates survive a failed run for postmortem and resume.
	require.False(t, lay.cleaned)
}

func TestBuildDependencyFailurePropagatesPerArch(t *testing.T) {
	cfg := testConfig(t, []string{"libogg", "libopus", "libopusfile"}, []string{"android"})
	cfg.Platforms["android"] = config.PlatformSection{
		NDKPath: "/ndk", APILevel: 21,
		Archs: []string{"arm64-v8a", "x86_64"}, LibType: "shared",
	}
	b, _, driver, _, _ := newTestBuilder(t, cfg)
	driver.fail["libopus/android/arm64-v8a/shared"] = fmt.Errorf("cc1 died")

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.True(t, report.Failed())

	byID := make(map[string]UnitResult)
	for _, u := range report.Units() {
		byID[u.Unit.ID()] = u
	}
	require.ErrorContains(t, byID["libopus/android/arm64-v8a/shared"].Err, "cc1 died")
	require.ErrorContains(t, byID["libopusfile/android/arm64-v8a/shared"].Err, "dependency libopus is not built")
	// The unaffected arch goes all the way through.
	require.NoError(t, byID["libopusfile/android/x86_64/shared"].Err)
	require.NoError(t, byID["libogg/android/arm64-v8a/shared"].Err)
}

func TestBuildKeepIntermediate(t *testing.T) {
	cfg := testConfig(t, []string{"libogg"}, []string{"android"})
	cfg.General.KeepIntermediate = true
	b, _, _, _, lay := newTestBuilder(t, cfg)

	report, err := b.Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.False(t, lay.cleaned)
}

func TestBuildRejectsImpossibleSelection(t *testing.T) {
	cfg := testConfig(t, []string{"libogg"}, []string{"ios"})
	cfg.Platforms["ios"] = config.PlatformSection{
		MinVersion: "11.0", Archs: []string{"arm64"}, LibType: "shared",
	}
	b, _, driver, _, _ := newTestBuilder(t, cfg)

	_, err := b.Build(context.Background())
	var unsupported *platform.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	require.Empty(t, driver.built())
}

func TestClean(t *testing.T) {
	cfg := testConfig(t, []string{"libogg"}, []string{"android"})
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Paths.BuildDir, "android"), 0o755))
	b, src, _, _, _ := newTestBuilder(t, cfg)

	require.NoError(t, b.Clean(true))
	_, err := os.Stat(cfg.Paths.BuildDir)
	require.True(t, os.IsNotExist(err))
	require.False(t, src.cleaned)

	require.NoError(t, b.Clean(false))
	require.True(t, src.cleaned)
}

func TestReportSummaryAndReuse(t *testing.T) {
	cfg := testConfig(t, []string{"libogg"}, []string{"android"})
	r := NewReport()
	groups, err := matrix.Expand(cfg)
	require.NoError(t, err)
	units := matrix.Units(groups)
	require.NotEmpty(t, units)

	r.AddUnit(units[0], true)
	require.Contains(t, r.Summary(), "(cached)")
	require.False(t, r.Failed())
	require.NoError(t, r.Err())
}
