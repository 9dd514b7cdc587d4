// Package artifact combines per-architecture build outputs into their
// platform-conventional composite form: universal binaries and xcframework
// bundles for Apple targets, per-ABI directory trees for Android and
// Harmony. The asymmetry is deliberate; Apple tooling wants one multi-arch
// bundle, Android and Harmony tooling wants separate ABI directories and
// never fat binaries.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/libforge/libforge/internal/fsx"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
	"github.com/libforge/libforge/internal/toolchain"
)

// IncompleteGroupError reports a merge attempted without an artifact for
// every declared arch. A partial composite is worse than none, so this is
// fatal for the group.
type IncompleteGroupError struct {
	Group   matrix.Group
	Missing []platform.Arch
}

func (e *IncompleteGroupError) Error() string {
	names := make([]string, len(e.Missing))
	for i, a := range e.Missing {
		names[i] = string(a)
	}
	return fmt.Sprintf("group %s: missing artifacts for archs: %s", e.Group.ID(), strings.Join(names, ", "))
}

// Kind discriminates merged artifact forms.
type Kind int

const (
	// Universal is a per-platform multi-arch binary plus headers,
	// an intermediate on the way to an xcframework.
	Universal Kind = iota
	// XCFramework is a staged Apple bundle ready for publication.
	XCFramework
	// ABITree is a staged per-ABI directory tree root.
	ABITree
)

// Merged is the output of a merge, staged under the intermediate tree until
// the layout writer publishes it.
type Merged struct {
	Library  library.Library
	Version  string
	Kind     Kind
	Platform platform.Platform // meaningful for Universal and ABITree
	Path     string
}

// RunFunc executes a host merge tool (lipo, xcodebuild). Injected so tests
// can fabricate outputs.
type RunFunc func(ctx context.Context, name string, args ...string) error

// Merger assembles composite artifacts inside buildDir.
type Merger struct {
	buildDir string
	run      RunFunc
	log      *zap.SugaredLogger
}

// NewMerger returns a Merger rooted at buildDir.
func NewMerger(buildDir string, log *zap.SugaredLogger, run RunFunc) *Merger {
	if run == nil {
		run = runHostTool
	}
	return &Merger{buildDir: buildDir, run: run, log: log}
}

// MergeGroup combines the group's per-arch artifacts. handles must cover
// every arch the group declares.
func (m *Merger) MergeGroup(ctx context.Context, group matrix.Group, handles map[platform.Arch]*toolchain.Artifact) (*Merged, error) {
	var missing []platform.Arch
	for _, arch := range group.Archs() {
		if handles[arch] == nil {
			missing = append(missing, arch)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteGroupError{Group: group, Missing: missing}
	}

	if group.Platform.IsDarwin() {
		return m.mergeUniversal(ctx, group, handles)
	}
	return m.assembleABITree(group, handles)
}

// mergeUniversal lipo-combines the per-arch libraries into
// build/<platform>/universal/<repo>/ and copies headers beside them.
func (m *Merger) mergeUniversal(ctx context.Context, group matrix.Group, handles map[platform.Arch]*toolchain.Artifact) (*Merged, error) {
	repo := group.Library.Repo()
	universalDir := filepath.Join(m.buildDir, string(group.Platform), "universal", repo)
	libDir := filepath.Join(universalDir, "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return nil, err
	}

	fileName := group.Library.FileName(group.Platform.Ext(group.LibType))
	output := filepath.Join(libDir, fileName)

	args := []string{"-create"}
	for _, arch := range group.Archs() {
		args = append(args, handles[arch].LibFile)
	}
	args = append(args, "-output", output)

	m.log.Infof("creating universal binary for %s on %s", group.Library, group.Platform)
	if err := m.run(ctx, "lipo", args...); err != nil {
		return nil, fmt.Errorf("lipo %s: %w", group.ID(), err)
	}

	// Headers are identical across archs of one platform; take the first.
	first := handles[group.Archs()[0]]
	if _, err := os.Stat(first.IncludeDir); err == nil {
		if err := fsx.CopyTree(first.IncludeDir, filepath.Join(universalDir, "include")); err != nil {
			return nil, err
		}
	}

	return &Merged{
		Library:  group.Library,
		Version:  group.Version,
		Kind:     Universal,
		Platform: group.Platform,
		Path:     universalDir,
	}, nil
}

// assembleABITree stages each arch's library under
// build/<platform>/merged/<abi>/<lib>-<version>/. No binary merge occurs.
func (m *Merger) assembleABITree(group matrix.Group, handles map[platform.Arch]*toolchain.Artifact) (*Merged, error) {
	root := filepath.Join(m.buildDir, string(group.Platform), "merged")
	version := strings.TrimPrefix(group.Version, "v")
	fileName := group.Library.FileName(group.Platform.Ext(group.LibType))

	for _, arch := range group.Archs() {
		handle := handles[arch]
		destDir := filepath.Join(root, string(arch), fmt.Sprintf("%s-%s", group.Library, version))
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return nil, err
		}
		if err := fsx.CopyFile(handle.LibFile, filepath.Join(destDir, fileName)); err != nil {
			return nil, fmt.Errorf("stage %s for %s: %w", fileName, arch, err)
		}
		m.log.Debugf("staged %s for %s/%s", fileName, group.Platform, arch)
	}

	return &Merged{
		Library:  group.Library,
		Version:  group.Version,
		Kind:     ABITree,
		Platform: group.Platform,
		Path:     root,
	}, nil
}

// CreateXCFramework wraps the universal outputs of the built darwin
// platforms into one staged .xcframework bundle. universals maps platform
// to the universal directory produced by MergeGroup.
func (m *Merger) CreateXCFramework(ctx context.Context, lib library.Library, version string, libType platform.LibType, universals map[platform.Platform]string) (*Merged, error) {
	if len(universals) == 0 {
		return nil, fmt.Errorf("xcframework for %s: no darwin platforms built", lib)
	}

	name := fmt.Sprintf("%s-%s.xcframework", lib, strings.TrimPrefix(version, "v"))
	staged := filepath.Join(m.buildDir, "xcframework", name)
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(staged); err != nil {
		return nil, err
	}

	fileName := lib.FileName(platform.MacOS.Ext(libType))
	args := []string{"-create-xcframework"}
	// Stable variant order keeps repeated runs byte-comparable.
	for _, plat := range []platform.Platform{platform.MacOS, platform.IOS, platform.IOSSim} {
		dir, ok := universals[plat]
		if !ok {
			continue
		}
		args = append(args, "-library", filepath.Join(dir, "lib", fileName))
		if _, err := os.Stat(filepath.Join(dir, "include")); err == nil {
			args = append(args, "-headers", filepath.Join(dir, "include"))
		}
	}
	args = append(args, "-output", staged)

	m.log.Infof("creating %s", name)
	if err := m.run(ctx, "xcodebuild", args...); err != nil {
		return nil, fmt.Errorf("xcodebuild -create-xcframework %s: %w", lib, err)
	}

	return &Merged{
		Library: lib,
		Version: version,
		Kind:    XCFramework,
		Path:    staged,
	}, nil
}

func runHostTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(buf.Bytes()))
	}
	return nil
}
