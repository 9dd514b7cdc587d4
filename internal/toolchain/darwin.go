package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
)

// darwinDriver covers macos, ios, and ios-sim. SDK and compiler locations
// come from xcrun on the host.
type darwinDriver struct {
	base
	section config.PlatformSection
	xcrun   OutputFunc
}

func sdkName(plat platform.Platform) (string, error) {
	switch plat {
	case platform.MacOS:
		return "macosx", nil
	case platform.IOS:
		return "iphoneos", nil
	case platform.IOSSim:
		return "iphonesimulator", nil
	}
	return "", fmt.Errorf("not a darwin platform: %s", plat)
}

// configureHost is only consumed by ./configure. The *-apple-darwin form is
// used for every variant; *-apple-ios breaks configure's library type
// detection. The real target goes through -target in CFLAGS.
func configureHost(arch platform.Arch) (string, error) {
	switch arch {
	case platform.Arm64:
		return "arm64-apple-darwin", nil
	case platform.X86_64:
		return "x86_64-apple-darwin", nil
	}
	return "", fmt.Errorf("arch %s not supported on darwin", arch)
}

func clangTarget(plat platform.Platform, arch platform.Arch) (string, error) {
	targets := map[platform.Platform]map[platform.Arch]string{
		platform.MacOS: {
			platform.Arm64:  "arm64-apple-macos",
			platform.X86_64: "x86_64-apple-macos",
		},
		platform.IOS: {
			platform.Arm64:  "arm64-apple-ios",
			platform.X86_64: "x86_64-apple-ios",
		},
		platform.IOSSim: {
			platform.Arm64:  "arm64-apple-ios-simulator",
			platform.X86_64: "x86_64-apple-ios-simulator",
		},
	}
	if t, ok := targets[plat][arch]; ok {
		return t, nil
	}
	return "", fmt.Errorf("no clang target for %s/%s", plat, arch)
}

func minVersionFlag(plat platform.Platform, minVersion string) (string, error) {
	switch plat {
	case platform.MacOS:
		return "-mmacosx-version-min=" + minVersion, nil
	case platform.IOS:
		return "-miphoneos-version-min=" + minVersion, nil
	case platform.IOSSim:
		return "-mios-simulator-version-min=" + minVersion, nil
	}
	return "", fmt.Errorf("not a darwin platform: %s", plat)
}

func (d *darwinDriver) output(ctx context.Context, name string, args ...string) (string, error) {
	if d.xcrun != nil {
		return d.xcrun(ctx, name, args...)
	}
	return hostToolOutput(ctx, name, args...)
}

func (d *darwinDriver) prepare(ctx context.Context, unit matrix.Unit) (*env, error) {
	sdk, err := sdkName(unit.Platform)
	if err != nil {
		return nil, err
	}
	host, err := configureHost(unit.Arch)
	if err != nil {
		return nil, err
	}
	target, err := clangTarget(unit.Platform, unit.Arch)
	if err != nil {
		return nil, err
	}
	minFlag, err := minVersionFlag(unit.Platform, d.section.MinVersion)
	if err != nil {
		return nil, err
	}

	sdkRoot, err := d.output(ctx, "xcrun", "--sdk", sdk, "--show-sdk-path")
	if err != nil {
		return nil, fmt.Errorf("xcrun --show-sdk-path: %w", err)
	}
	cc, err := d.output(ctx, "xcrun", "--sdk", sdk, "--find", "clang")
	if err != nil {
		return nil, fmt.Errorf("xcrun --find clang: %w", err)
	}

	arch := string(unit.Arch)
	return &env{
		host: host,
		cc:   cc,
		cflags: joinFlags(
			"-target "+target,
			"-arch "+arch,
			"-isysroot "+sdkRoot,
			minFlag,
			d.build.CFlags,
		),
		ldflags: joinFlags(
			"-arch "+arch,
			"-isysroot "+sdkRoot,
			minFlag,
			d.build.LDFlags,
		),
	}, nil
}

func (d *darwinDriver) Build(ctx context.Context, unit matrix.Unit, sourceDir string) (*Artifact, error) {
	e, err := d.prepare(ctx, unit)
	if err != nil {
		return nil, &Error{Unit: unit, Stage: StagePrepare, Err: err}
	}
	return d.buildUnit(ctx, unit, sourceDir, e)
}

// hostToolOutput runs a host discovery tool and returns its trimmed stdout.
func hostToolOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %v: %w: %s", name, args, err, bytes.TrimSpace(errBuf.Bytes()))
	}
	return strings.TrimSpace(out.String()), nil
}
