// Package config loads and validates the TOML build configuration.
// The configuration is read once at startup and treated as immutable.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
	"golang.org/x/mod/semver"

	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/platform"
)

// DefaultFile is the configuration file name looked up in the working
// directory.
const DefaultFile = "libforge.toml"

// Error reports an invalid or contradictory configuration. It is fatal
// before any build starts.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func errorf(field, format string, args ...any) *Error {
	return &Error{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Config is the validated snapshot of user intent.
type Config struct {
	General   General                    `toml:"general"`
	Paths     Paths                      `toml:"paths"`
	Build     Build                      `toml:"build"`
	Platforms map[string]PlatformSection `toml:"platforms"`
	Libraries map[string]LibrarySection  `toml:"libraries"`
}

// General selects what to build.
type General struct {
	Libraries        []string `toml:"libraries"`
	Platforms        []string `toml:"platforms"`
	KeepIntermediate bool     `toml:"keep_intermediate"`
	RepoPrefix       string   `toml:"repo_prefix"`
}

// Paths locates the on-disk trees the tool owns.
type Paths struct {
	BuildDir string `toml:"build_dir"`
	RepoDir  string `toml:"repo_dir"`
}

// Build holds flags applied to every unit, before platform and per-library
// flags.
type Build struct {
	Jobs           int      `toml:"jobs"`
	CFlags         string   `toml:"cflags"`
	LDFlags        string   `toml:"ldflags"`
	ConfigureFlags []string `toml:"configure_flags"`
}

// PlatformSection configures one [platforms.<name>] block.
type PlatformSection struct {
	Archs      []string `toml:"archs"`
	LibType    string   `toml:"lib_type"`
	MinVersion string   `toml:"min_version,omitempty"` // Apple targets
	NDKPath    string   `toml:"ndk_path,omitempty"`    // Android/Harmony
	APILevel   int      `toml:"api_level,omitempty"`   // Android
}

// LibrarySection configures one [libraries.<name>] block.
type LibrarySection struct {
	Version        string   `toml:"version"`
	ConfigureFlags []string `toml:"configure_flags,omitempty"`
	CFlags         string   `toml:"cflags,omitempty"`
	LDFlags        string   `toml:"ldflags,omitempty"`
}

// Default returns the configuration written on first run, mirroring the
// opus-family defaults.
func Default() *Config {
	return &Config{
		General: General{
			Libraries:  []string{"libogg", "libopus", "libopusenc", "libopusfile"},
			Platforms:  []string{"ios-sim", "ios", "macos", "android"},
			RepoPrefix: "https://gitlab.xiph.org/xiph/",
		},
		Paths: Paths{
			BuildDir: "build",
			RepoDir:  "repos",
		},
		Build: Build{
			Jobs:           8,
			CFlags:         "-O3 -g -DNDEBUG -ffast-math",
			LDFlags:        "-flto -fPIE",
			ConfigureFlags: []string{"--with-pic"},
		},
		Platforms: map[string]PlatformSection{
			"macos": {
				MinVersion: "10.13",
				Archs:      []string{"arm64", "x86_64"},
				LibType:    "static",
			},
			"ios": {
				MinVersion: "11.0",
				Archs:      []string{"arm64"},
				LibType:    "static",
			},
			"ios-sim": {
				MinVersion: "11.0",
				Archs:      []string{"arm64", "x86_64"},
				LibType:    "static",
			},
			"android": {
				NDKPath:  "/usr/local/NDK-r28c",
				APILevel: 21,
				Archs:    []string{"arm64-v8a", "armeabi-v7a", "x86_64", "x86"},
				LibType:  "shared",
			},
			"harmony": {
				NDKPath: "/usr/local/command-line-tools/sdk/default/openharmony",
				Archs:   []string{"armeabi-v7a", "arm64-v8a", "x86_64"},
				LibType: "shared",
			},
		},
		Libraries: map[string]LibrarySection{
			"libogg": {Version: "v1.3.5"},
			"libopus": {
				Version: "v1.5.2",
				ConfigureFlags: []string{
					"--enable-float-approx",
					"--disable-extra-programs",
					"--disable-doc",
				},
			},
			"libopusenc": {Version: "v0.2.1"},
			"libopusfile": {
				Version: "v0.12",
				ConfigureFlags: []string{
					"--disable-http",
					"--disable-examples",
					"--disable-doc",
				},
			},
		},
	}
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errorf(path, "parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrCreate reads the configuration at path, writing the defaults there
// first when the file does not exist.
func LoadOrCreate(path string) (*Config, bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		data, err := toml.Marshal(*cfg)
		if err != nil {
			return nil, false, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, false, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, false, err
		}
		return cfg, true, nil
	}
	cfg, err := Load(path)
	return cfg, false, err
}

// Validate checks structural consistency: every selected platform and
// library must resolve to a known name with a usable section. Capability
// checks (arch and lib-type support) belong to matrix expansion.
func (c *Config) Validate() error {
	if len(c.General.Libraries) == 0 {
		return errorf("general.libraries", "no libraries selected")
	}
	if len(c.General.Platforms) == 0 {
		return errorf("general.platforms", "no platforms selected")
	}
	if c.General.RepoPrefix == "" {
		return errorf("general.repo_prefix", "repository prefix required")
	}
	if c.Paths.BuildDir == "" {
		return errorf("paths.build_dir", "build directory required")
	}
	if c.Paths.RepoDir == "" {
		return errorf("paths.repo_dir", "repository directory required")
	}
	if c.Build.Jobs < 0 {
		return errorf("build.jobs", "must be non-negative, got %d", c.Build.Jobs)
	}

	seenPlatform := make(map[string]bool)
	for _, name := range c.General.Platforms {
		if seenPlatform[name] {
			return errorf("general.platforms", "duplicate platform %q", name)
		}
		seenPlatform[name] = true
		if !platform.Known(platform.Platform(name)) {
			return errorf("general.platforms", "unknown platform %q", name)
		}
		sec, ok := c.Platforms[name]
		if !ok {
			return errorf("platforms."+name, "missing section for selected platform")
		}
		if len(sec.Archs) == 0 {
			return errorf("platforms."+name+".archs", "empty arch list")
		}
		seenArch := make(map[string]bool)
		for _, a := range sec.Archs {
			if seenArch[a] {
				return errorf("platforms."+name+".archs", "duplicate arch %q", a)
			}
			seenArch[a] = true
		}
		switch sec.LibType {
		case string(platform.Static), string(platform.Shared):
		case "":
			return errorf("platforms."+name+".lib_type", "lib type required")
		default:
			return errorf("platforms."+name+".lib_type", "invalid lib type %q", sec.LibType)
		}
	}
	for name := range c.Platforms {
		if !platform.Known(platform.Platform(name)) {
			return errorf("platforms."+name, "unknown platform section")
		}
	}

	seenLib := make(map[string]bool)
	for _, name := range c.General.Libraries {
		if seenLib[name] {
			return errorf("general.libraries", "duplicate library %q", name)
		}
		seenLib[name] = true
		if !library.Known(library.Library(name)) {
			return errorf("general.libraries", "unknown library %q", name)
		}
		sec, ok := c.Libraries[name]
		if !ok {
			return errorf("libraries."+name, "missing section for selected library")
		}
		if sec.Version == "" {
			return errorf("libraries."+name+".version", "version required")
		}
		// Refs that look like semver tags must be well formed; anything
		// else (branch, commit hash) passes through to git untouched.
		if strings.HasPrefix(sec.Version, "v") && strings.Contains(sec.Version, ".") {
			if !semver.IsValid(sec.Version) {
				return errorf("libraries."+name+".version", "malformed version tag %q", sec.Version)
			}
		}
	}
	for name := range c.Libraries {
		if !library.Known(library.Library(name)) {
			return errorf("libraries."+name, "unknown library section")
		}
	}
	return nil
}

// SelectedPlatforms returns the selected platforms in configuration order.
func (c *Config) SelectedPlatforms() []platform.Platform {
	out := make([]platform.Platform, 0, len(c.General.Platforms))
	for _, name := range c.General.Platforms {
		out = append(out, platform.Platform(name))
	}
	return out
}

// SelectedLibraries returns the selected libraries in configuration order.
func (c *Config) SelectedLibraries() []library.Library {
	out := make([]library.Library, 0, len(c.General.Libraries))
	for _, name := range c.General.Libraries {
		out = append(out, library.Library(name))
	}
	return out
}

// Platform returns the section for p. Validate guarantees presence for every
// selected platform.
func (c *Config) Platform(p platform.Platform) PlatformSection {
	return c.Platforms[string(p)]
}

// Library returns the section for lib.
func (c *Config) Library(lib library.Library) LibrarySection {
	return c.Libraries[string(lib)]
}

// Archs returns the configured archs for p, in configuration order.
func (c *Config) Archs(p platform.Platform) []platform.Arch {
	sec := c.Platform(p)
	out := make([]platform.Arch, 0, len(sec.Archs))
	for _, a := range sec.Archs {
		out = append(out, platform.Arch(a))
	}
	return out
}

// LibType returns the configured link type for p.
func (c *Config) LibType(p platform.Platform) platform.LibType {
	return platform.LibType(c.Platform(p).LibType)
}

// Version returns the configured git ref for lib.
func (c *Config) Version(lib library.Library) string {
	return c.Library(lib).Version
}

// Jobs returns the bounded worker count, never less than one.
func (c *Config) Jobs() int {
	if c.Build.Jobs < 1 {
		return 1
	}
	return c.Build.Jobs
}

// RepoURL returns the upstream clone URL for lib.
func (c *Config) RepoURL(lib library.Library) string {
	return c.General.RepoPrefix + lib.Repo() + ".git"
}
