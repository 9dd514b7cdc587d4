package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libforge/libforge/internal/config"
	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
)

// harmonyDriver cross-compiles with the OpenHarmony native SDK, a clang
// toolchain targeting *-linux-ohos against a musl sysroot.
type harmonyDriver struct {
	base
	section config.PlatformSection
}

func harmonyTarget(arch platform.Arch) (string, error) {
	switch arch {
	case platform.ArmeabiV7a:
		return "arm-linux-ohos", nil
	case platform.Arm64V8a:
		return "aarch64-linux-ohos", nil
	case platform.X86_64:
		return "x86_64-linux-ohos", nil
	}
	return "", fmt.Errorf("arch %s not supported on harmony", arch)
}

func harmonyConfigureHost(arch platform.Arch) (string, error) {
	switch arch {
	case platform.ArmeabiV7a:
		return "arm-linux", nil
	case platform.Arm64V8a:
		return "aarch64-linux", nil
	case platform.X86_64:
		return "x86_64-linux", nil
	}
	return "", fmt.Errorf("arch %s not supported on harmony", arch)
}

func harmonyArchCFlags(arch platform.Arch) (string, error) {
	switch arch {
	case platform.ArmeabiV7a:
		return "-D__MUSL__ -march=armv7-a -mfloat-abi=softfp -mtune=generic-armv7-a -mthumb", nil
	case platform.Arm64V8a, platform.X86_64:
		return "-D__MUSL__", nil
	}
	return "", fmt.Errorf("arch %s not supported on harmony", arch)
}

func (d *harmonyDriver) prepare(unit matrix.Unit) (*env, error) {
	target, err := harmonyTarget(unit.Arch)
	if err != nil {
		return nil, err
	}
	host, err := harmonyConfigureHost(unit.Arch)
	if err != nil {
		return nil, err
	}
	archFlags, err := harmonyArchCFlags(unit.Arch)
	if err != nil {
		return nil, err
	}
	if d.section.NDKPath == "" {
		return nil, fmt.Errorf("ndk_path not configured for harmony")
	}

	bin := filepath.Join(d.section.NDKPath, "native", "llvm", "bin")
	if _, err := os.Stat(bin); err != nil {
		return nil, fmt.Errorf("harmony toolchain bin not found: %s", bin)
	}
	sysroot := filepath.Join(d.section.NDKPath, "native", "sysroot")
	if _, err := os.Stat(sysroot); err != nil {
		return nil, fmt.Errorf("harmony sysroot not found: %s", sysroot)
	}

	cc := fmt.Sprintf("%s --target=%s", filepath.Join(bin, "clang"), target)
	cxx := fmt.Sprintf("%s --target=%s", filepath.Join(bin, "clang++"), target)

	return &env{
		host: host,
		cc:   cc,
		cxx:  cxx,
		extra: map[string]string{
			"AR":     filepath.Join(bin, "llvm-ar"),
			"LD":     filepath.Join(bin, "ld.lld"),
			"NM":     filepath.Join(bin, "llvm-nm"),
			"RANLIB": filepath.Join(bin, "llvm-ranlib"),
			"STRIP":  filepath.Join(bin, "llvm-strip"),
		},
		cflags:  joinFlags(d.build.CFlags, "--sysroot="+sysroot, archFlags),
		ldflags: joinFlags(d.build.LDFlags, "--sysroot="+sysroot),
	}, nil
}

func (d *harmonyDriver) Build(ctx context.Context, unit matrix.Unit, sourceDir string) (*Artifact, error) {
	e, err := d.prepare(unit)
	if err != nil {
		return nil, &Error{Unit: unit, Stage: StagePrepare, Err: err}
	}
	return d.buildUnit(ctx, unit, sourceDir, e)
}
