package platform

import (
	"testing"
)

func TestCapabilityTable(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		arch     Arch
		libType  LibType
		wantArch bool
		wantType bool
	}{
		{"macos static arm64", MacOS, Arm64, Static, true, true},
		{"macos shared rejected", MacOS, Arm64, Shared, true, false},
		{"ios shared rejected", IOS, Arm64, Shared, true, false},
		{"ios-sim x86_64", IOSSim, X86_64, Static, true, true},
		{"ios abi arch rejected", IOS, Arm64V8a, Static, false, true},
		{"android shared arm64-v8a", Android, Arm64V8a, Shared, true, true},
		{"android plain arm64 rejected", Android, Arm64, Shared, false, true},
		{"harmony x86 rejected", Harmony, X86, Shared, false, true},
		{"harmony static allowed", Harmony, Arm64V8a, Static, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.platform.SupportsArch(tt.arch); got != tt.wantArch {
				t.Errorf("SupportsArch(%s) = %v, want %v", tt.arch, got, tt.wantArch)
			}
			if got := tt.platform.SupportsLibType(tt.libType); got != tt.wantType {
				t.Errorf("SupportsLibType(%s) = %v, want %v", tt.libType, got, tt.wantType)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	for _, p := range All() {
		if !Known(p) {
			t.Errorf("Known(%s) = false", p)
		}
	}
	if Known(Platform("windows")) {
		t.Error("Known(windows) = true")
	}
}

func TestOutputFamily(t *testing.T) {
	for p, want := range map[Platform]string{
		MacOS:   "darwin",
		IOS:     "darwin",
		IOSSim:  "darwin",
		Android: "android",
		Harmony: "harmony",
	} {
		if got := p.OutputFamily(); got != want {
			t.Errorf("%s.OutputFamily() = %q, want %q", p, got, want)
		}
	}
}

func TestExt(t *testing.T) {
	if got := MacOS.Ext(Shared); got != "dylib" {
		t.Errorf("macos shared ext = %q, want dylib", got)
	}
	if got := Android.Ext(Shared); got != "so" {
		t.Errorf("android shared ext = %q, want so", got)
	}
	if got := Harmony.Ext(Static); got != "a" {
		t.Errorf("harmony static ext = %q, want a", got)
	}
}

func TestUnsupportedErrorMessage(t *testing.T) {
	err := &UnsupportedError{Platform: IOS, LibType: Shared}
	want := "platform ios does not support shared libraries"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
