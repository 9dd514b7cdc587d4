package toolchain

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
)

// androidDriver cross-compiles with the NDK's prebuilt llvm toolchain.
type androidDriver struct {
	base
	section config.PlatformSection
}

func androidTriple(arch platform.Arch) (string, error) {
	switch arch {
	case platform.ArmeabiV7a:
		return "armv7-linux-androideabi", nil
	case platform.Arm64V8a:
		return "aarch64-linux-android", nil
	case platform.X86:
		return "i686-linux-android", nil
	case platform.X86_64:
		return "x86_64-linux-android", nil
	}
	return "", fmt.Errorf("arch %s not supported on android", arch)
}

func ndkHostTag() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return "darwin-x86_64", nil
	case "linux":
		return "linux-x86_64", nil
	}
	return "", fmt.Errorf("unsupported NDK host OS: %s", runtime.GOOS)
}

func (d *androidDriver) prepare(unit matrix.Unit) (*env, error) {
	triple, err := androidTriple(unit.Arch)
	if err != nil {
		return nil, err
	}
	hostTag, err := ndkHostTag()
	if err != nil {
		return nil, err
	}
	if d.section.NDKPath == "" {
		return nil, fmt.Errorf("ndk_path not configured for android")
	}

	bin := filepath.Join(d.section.NDKPath, "toolchains", "llvm", "prebuilt", hostTag, "bin")
	apiLevel := d.section.APILevel
	if apiLevel == 0 {
		apiLevel = 21
	}
	target := fmt.Sprintf("%s%d", triple, apiLevel)
	cc := fmt.Sprintf("%s --target=%s", filepath.Join(bin, "clang"), target)
	cxx := fmt.Sprintf("%s --target=%s", filepath.Join(bin, "clang++"), target)

	return &env{
		host: triple,
		cc:   cc,
		cxx:  cxx,
		extra: map[string]string{
			"AR":     filepath.Join(bin, "llvm-ar"),
			"AS":     cc,
			"LD":     filepath.Join(bin, "ld"),
			"NM":     filepath.Join(bin, "llvm-nm"),
			"RANLIB": filepath.Join(bin, "llvm-ranlib"),
			"STRIP":  filepath.Join(bin, "llvm-strip"),
		},
		cflags:  d.build.CFlags,
		ldflags: d.build.LDFlags,
	}, nil
}

func (d *androidDriver) Build(ctx context.Context, unit matrix.Unit, sourceDir string) (*Artifact, error) {
	e, err := d.prepare(unit)
	if err != nil {
		return nil, &Error{Unit: unit, Stage: StagePrepare, Err: err}
	}
	return d.buildUnit(ctx, unit, sourceDir, e)
}
